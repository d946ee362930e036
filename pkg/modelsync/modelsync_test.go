package modelsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/store"
)

func setupTestSyncer(t *testing.T, cfg config.ModelSyncConfig) (*Syncer, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, cfg), s
}

func TestSyncUpsertsCatalogModels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"data":[{"code":"yolo-v8","version":"2","class_count":80}]}`))
	}))
	defer ts.Close()

	syncer, s := setupTestSyncer(t, config.ModelSyncConfig{Enabled: true, Endpoint: ts.URL, APIKey: "test-key"})
	require.NoError(t, syncer.Sync(context.Background()))

	models, err := s.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "yolo-v8", models[0].Code)
	require.False(t, syncer.LastSync().IsZero())
}

func TestSyncRejectsWhenDisabled(t *testing.T) {
	syncer, _ := setupTestSyncer(t, config.ModelSyncConfig{Enabled: false})
	require.Error(t, syncer.Sync(context.Background()))
}

func TestSyncRejectsWhenEndpointMissing(t *testing.T) {
	syncer, _ := setupTestSyncer(t, config.ModelSyncConfig{Enabled: true})
	require.Error(t, syncer.Sync(context.Background()))
}

func TestSyncPropagatesNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	syncer, _ := setupTestSyncer(t, config.ModelSyncConfig{Enabled: true, Endpoint: ts.URL, APIKey: "test-key"})
	require.Error(t, syncer.Sync(context.Background()))
}

func TestIntervalDefault(t *testing.T) {
	syncer, _ := setupTestSyncer(t, config.ModelSyncConfig{})
	require.Equal(t, DefaultInterval, syncer.interval())
}

func TestStartIsNoopWhenDisabled(t *testing.T) {
	syncer, _ := setupTestSyncer(t, config.ModelSyncConfig{Enabled: false})
	syncer.Start()
	syncer.Stop()
}

func TestStartStopLifecycleWhenEnabled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	syncer, _ := setupTestSyncer(t, config.ModelSyncConfig{Enabled: true, Endpoint: ts.URL, Interval: time.Millisecond})
	syncer.Start()
	time.Sleep(20 * time.Millisecond)
	syncer.Stop()
}
