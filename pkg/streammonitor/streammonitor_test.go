package streammonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/probe"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

// stubChecker always returns a fixed result, letting tests drive
// probeOne/cycle without touching the network.
type stubChecker struct {
	online bool
}

func (c stubChecker) Check(ctx context.Context) probe.Result {
	return probe.Result{Online: c.online, CheckedAt: time.Now()}
}

func (c stubChecker) Kind() probe.Kind { return probe.KindTCP }

func setupTestMonitor(t *testing.T) (*Monitor, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := New(s, config.StreamConfig{Interval: time.Millisecond, WorkerPool: 2})
	return m, s
}

func mustCreateRunningStreamSubtask(t *testing.T, ctx context.Context, s *store.SQLiteStore, streamURL string, online bool) *types.Stream {
	t.Helper()
	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	streamID, err := s.CreateStream(ctx, &types.Stream{URL: streamURL, Online: online})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisStream, StreamIDs: []int64{streamID}})
	require.NoError(t, err)
	subID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisStream, ModelID: modelID,
		Source: types.Source{Kind: types.SourceLiveStream, StreamID: streamID},
	})
	require.NoError(t, err)
	sub, err := s.GetSubTask(ctx, subID)
	require.NoError(t, err)
	sub.Status = types.StatusRunning
	require.NoError(t, s.UpdateSubTask(ctx, sub))

	stream, err := s.GetStream(ctx, streamID)
	require.NoError(t, err)
	return stream
}

func TestCyclePersistsOnlineTransition(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestMonitor(t)
	stream := mustCreateRunningStreamSubtask(t, ctx, s, "rtsp://cam1", false)
	m.checkerFor = func(string) probe.Checker { return stubChecker{online: true} }

	m.cycle(ctx)

	got, err := s.GetStream(ctx, stream.ID)
	require.NoError(t, err)
	require.True(t, got.Online)
}

func TestCyclePersistsOfflineTransition(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestMonitor(t)
	stream := mustCreateRunningStreamSubtask(t, ctx, s, "rtsp://cam2", true)
	m.checkerFor = func(string) probe.Checker { return stubChecker{online: false} }

	m.cycle(ctx)

	got, err := s.GetStream(ctx, stream.ID)
	require.NoError(t, err)
	require.False(t, got.Online)
}

func TestCycleSkipsWriteWhenStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestMonitor(t)
	calls := 0
	stream := mustCreateRunningStreamSubtask(t, ctx, s, "rtsp://cam3", true)
	m.checkerFor = func(string) probe.Checker {
		calls++
		return stubChecker{online: true}
	}

	m.cycle(ctx)

	require.Equal(t, 1, calls, "stream is still probed even when state doesn't change")
	got, err := s.GetStream(ctx, stream.ID)
	require.NoError(t, err)
	require.True(t, got.Online)
}

func TestCycleIgnoresStreamsWithNoRunningTask(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestMonitor(t)
	_, err := s.CreateStream(ctx, &types.Stream{URL: "rtsp://idle", Online: false})
	require.NoError(t, err)
	probed := false
	m.checkerFor = func(string) probe.Checker {
		probed = true
		return stubChecker{online: true}
	}

	m.cycle(ctx)

	require.False(t, probed, "a stream with no running task must never be probed")
}

func TestIntervalAndWorkerPoolDefaults(t *testing.T) {
	m := New(nil, config.StreamConfig{})
	require.Equal(t, DefaultInterval, m.interval())
	require.Equal(t, DefaultWorkerPool, m.workerPool())
}

func TestStartStopLifecycle(t *testing.T) {
	m, _ := setupTestMonitor(t)
	m.Start()
	time.Sleep(5 * time.Millisecond)
	require.NotPanics(t, func() { m.Stop() })
}
