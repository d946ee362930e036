package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &types.Task{
		Name:             "T1",
		Kind:             types.AnalysisStream,
		StreamIDs:        []int64{},
		ModelIDs:         []int64{},
		URLs:             []string{},
		AnalysisInterval: 1,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "T1", task.Name)
	require.Equal(t, types.AnalysisStream, task.Kind)
	require.Equal(t, types.StatusPending, task.Status)
}

func TestCreateTaskPersistsModelAndStreamRefs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "yolov8", Version: "1"})
	require.NoError(t, err)
	streamID, err := s.CreateStream(ctx, &types.Stream{URL: "rtsp://cam1"})
	require.NoError(t, err)

	taskID, err := s.CreateTask(ctx, &types.Task{
		Name:      "T2",
		Kind:      types.AnalysisStream,
		ModelIDs:  []int64{modelID},
		StreamIDs: []int64{streamID},
		URLs:      []string{},
	})
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, []int64{modelID}, task.ModelIDs)
	require.Equal(t, []int64{streamID}, task.StreamIDs)
}

func TestDeleteTaskCascadesSubtasks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "T3", Kind: types.AnalysisImage, URLs: []string{"a.jpg"}})
	require.NoError(t, err)

	subID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID:  taskID,
		Kind:    types.AnalysisImage,
		ModelID: modelID,
		Source:  types.Source{Kind: types.SourceImageBatch, URLs: []string{"a.jpg"}},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, taskID))

	_, err = s.GetSubTask(ctx, subID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertNodeByMAC(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := &types.Node{
		MACAddress: "AA:01",
		MaxTasks:   4,
		Status:     types.NodeOnline,
		TaskCounts: map[string]int{},
	}
	id1, err := s.UpsertNode(ctx, n)
	require.NoError(t, err)

	n.CPUUsage = 55
	id2, err := s.UpsertNode(ctx, n)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	got, err := s.GetNodeByMAC(ctx, "AA:01")
	require.NoError(t, err)
	require.Equal(t, 55.0, got.CPUUsage)
}

func TestCountSubTasksByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "T4", Kind: types.AnalysisImage, URLs: []string{"a.jpg"}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateSubTask(ctx, &types.SubTask{
			TaskID:  taskID,
			Kind:    types.AnalysisImage,
			ModelID: modelID,
			Source:  types.Source{Kind: types.SourceImageBatch, URLs: []string{"a.jpg"}},
		})
		require.NoError(t, err)
	}

	counts, err := s.CountSubTasksByTaskAndStatus(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, 3, counts[types.StatusPending])
}

func TestListStreamsReferencedByRunningTasks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	streamID, err := s.CreateStream(ctx, &types.Stream{URL: "rtsp://cam1"})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "T5", Kind: types.AnalysisStream, StreamIDs: []int64{streamID}})
	require.NoError(t, err)

	subID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID:  taskID,
		Kind:    types.AnalysisStream,
		ModelID: modelID,
		Source:  types.Source{Kind: types.SourceLiveStream, StreamID: streamID},
	})
	require.NoError(t, err)

	streams, err := s.ListStreamsReferencedByRunningTasks(ctx)
	require.NoError(t, err)
	require.Empty(t, streams, "subtask is still pending, not running")

	sub, err := s.GetSubTask(ctx, subID)
	require.NoError(t, err)
	sub.Status = types.StatusRunning
	require.NoError(t, s.UpdateSubTask(ctx, sub))

	streams, err = s.ListStreamsReferencedByRunningTasks(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, streamID, streams[0].ID)
}

func TestSaveAndGetSubTaskResult(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	modelID, err := s.UpsertModel(ctx, &types.Model{Code: "m1"})
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "T6", Kind: types.AnalysisImage, URLs: []string{"a.jpg"}})
	require.NoError(t, err)
	subID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"a.jpg"}},
	})
	require.NoError(t, err)

	_, err = s.GetSubTaskResult(ctx, subID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSubTaskResult(ctx, subID, `{"boxes":3}`, 10))
	got, err := s.GetSubTaskResult(ctx, subID)
	require.NoError(t, err)
	require.Equal(t, `{"boxes":3}`, got)

	require.NoError(t, s.SaveSubTaskResult(ctx, subID, `{"boxes":5}`, 20))
	got, err = s.GetSubTaskResult(ctx, subID)
	require.NoError(t, err)
	require.Equal(t, `{"boxes":5}`, got)
}
