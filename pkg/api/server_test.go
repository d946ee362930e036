package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/ingest"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/retryqueue"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

type stubModelSyncer struct {
	err error
}

func (m *stubModelSyncer) Sync(ctx context.Context) error { return m.err }

func setupTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s, nil)
	ts := taskstate.New(s, nil, config.TaskStateConfig{})
	d := dispatch.New(s, reg, nil, ts, config.DispatchConfig{}, "meek")
	rq := retryqueue.New(s, ts, d, nil, config.RetryConfig{})
	ing := ingest.New(s, ts, d, "meek")

	srv := New(s, reg, d, rq, ing, ts, &stubModelSyncer{}, config.HTTPConfig{Listen: ":0"}, config.ModelSyncConfig{APIKey: "secret"})
	return srv, s
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func newRequestWithHeader(method, path, apiKey string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, httptest.NewRecorder()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func mustCreateModelForAPI(t *testing.T, ctx context.Context, s *store.SQLiteStore, code string) int64 {
	t.Helper()
	id, err := s.UpsertModel(ctx, &types.Model{Code: code, Version: "1"})
	require.NoError(t, err)
	return id
}

func TestHealthzReportsOK(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddlewareTurnsPanicIntoFiveHundred(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.router.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	rec := doJSON(t, srv, http.MethodGet, "/panic", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
