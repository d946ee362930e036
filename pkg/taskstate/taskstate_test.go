package taskstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

func setupTestManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return New(s, nil, config.TaskStateConfig{}), s
}

func mustCreateTaskWithSubtasks(t *testing.T, ctx context.Context, s *store.SQLiteStore, n int) (int64, []*types.SubTask) {
	t.Helper()
	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "yolo-v8", Version: "1"})
	require.NoError(t, err)

	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"http://x/1.jpg"}})
	require.NoError(t, err)

	subs := make([]*types.SubTask, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.CreateSubTask(ctx, &types.SubTask{
			TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
			Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"http://x/1.jpg"}},
		})
		require.NoError(t, err)
		st, err := s.GetSubTask(ctx, id)
		require.NoError(t, err)
		subs = append(subs, st)
	}
	return taskID, subs
}

func TestTransitionUpdatesInMemoryCounters(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestManager(t)
	taskID, subs := mustCreateTaskWithSubtasks(t, ctx, s, 1)

	require.NoError(t, m.Transition(ctx, subs[0], types.StatusRunning, nil, ""))

	counts := m.counters[taskID]
	require.Equal(t, 0, counts[types.StatusPending])
	require.Equal(t, 1, counts[types.StatusRunning])
}

func TestFlushWritesSubtaskAndDerivesTaskStatus(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestManager(t)
	taskID, subs := mustCreateTaskWithSubtasks(t, ctx, s, 2)

	require.NoError(t, m.Transition(ctx, subs[0], types.StatusRunning, nil, ""))
	require.NoError(t, m.Transition(ctx, subs[1], types.StatusRunning, nil, ""))

	m.flush(ctx)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, task.Status)
	require.Equal(t, 2, task.ActiveSubtasks)

	got0, err := s.GetSubTask(ctx, subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, got0.Status)
}

func TestFlushAllCompletedDerivesCompletedStatus(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestManager(t)
	taskID, subs := mustCreateTaskWithSubtasks(t, ctx, s, 2)

	require.NoError(t, m.Transition(ctx, subs[0], types.StatusCompleted, nil, ""))
	require.NoError(t, m.Transition(ctx, subs[1], types.StatusCompleted, nil, ""))
	m.flush(ctx)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, task.Status)
	require.Equal(t, 0, task.ActiveSubtasks)
}

func TestFlushMixedStatusDerivesStopped(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestManager(t)
	taskID, subs := mustCreateTaskWithSubtasks(t, ctx, s, 2)

	require.NoError(t, m.Transition(ctx, subs[0], types.StatusCompleted, nil, ""))
	require.NoError(t, m.Transition(ctx, subs[1], types.StatusError, nil, "boom"))
	m.flush(ctx)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, types.StatusStopped, task.Status)
	require.Equal(t, "boom", task.LastError)
}

func TestFlushPreservesPriorErrorWhenBatchHasNone(t *testing.T) {
	ctx := context.Background()
	m, s := setupTestManager(t)
	taskID, subs := mustCreateTaskWithSubtasks(t, ctx, s, 2)

	require.NoError(t, m.Transition(ctx, subs[0], types.StatusError, nil, "disk full"))
	m.flush(ctx)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, "disk full", task.LastError)

	// Second batch touches only the other subtask, with no error of its
	// own; the task's last-recorded error must survive the write.
	require.NoError(t, m.Transition(ctx, subs[1], types.StatusCompleted, nil, ""))
	m.flush(ctx)

	task, err = s.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, "disk full", task.LastError)
}

func TestFlushNoopWhenNothingPending(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t)
	require.NotPanics(t, func() { m.flush(ctx) })
}
