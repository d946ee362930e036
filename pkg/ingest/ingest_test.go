package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

func setupTestIngester(t *testing.T) (*Ingester, *store.SQLiteStore, *dispatch.Dispatcher) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s, nil)
	ts := taskstate.New(s, nil, config.TaskStateConfig{})
	d := dispatch.New(s, reg, nil, ts, config.DispatchConfig{}, "meek")
	return New(s, ts, d, "meek"), s, d
}

func mustCreateModel(t *testing.T, ctx context.Context, s *store.SQLiteStore, code string) int64 {
	t.Helper()
	id, err := s.UpsertModel(ctx, &types.Model{Code: code, Version: "1"})
	require.NoError(t, err)
	return id
}

func mustCreateRunningSubtask(t *testing.T, ctx context.Context, s *store.SQLiteStore, saveResult bool) (*types.Task, *types.SubTask, *types.Node) {
	t.Helper()
	modelID := mustCreateModel(t, ctx, s, "yolo-v8")

	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"http://x/1.jpg"}, SaveResult: saveResult})
	require.NoError(t, err)
	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)

	nodeID, err := s.UpsertNode(ctx, &types.Node{
		MACAddress: "AA:01", Status: types.NodeOnline, Active: true,
		MaxTasks: 4, TaskCounts: map[string]int{"image": 1},
	})
	require.NoError(t, err)
	node, err := s.GetNode(ctx, nodeID)
	require.NoError(t, err)

	stID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"http://x/1.jpg"}},
	})
	require.NoError(t, err)
	st, err := s.GetSubTask(ctx, stID)
	require.NoError(t, err)
	st.Status = types.StatusRunning
	st.AssignedNodeID = node.ID
	st.WorkerSubtaskID = "w-1"
	require.NoError(t, s.UpdateSubTask(ctx, st))

	return task, st, node
}

func TestHandleResultCompletedMarksSubtaskCompleted(t *testing.T) {
	ctx := context.Background()
	ing, s, _ := setupTestIngester(t)
	_, st, _ := mustCreateRunningSubtask(t, ctx, s, false)

	payload := []byte(`{"task_id":"` + itoa(st.TaskID) + `","subtask_id":"` + itoa(st.ID) + `","status":"completed","status_code":200}`)
	ing.HandleResult("meek/AA:01/result", payload)
	ing.taskState.Stop()

	got, err := s.GetSubTask(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestHandleResultFailedRecordsError(t *testing.T) {
	ctx := context.Background()
	ing, s, _ := setupTestIngester(t)
	_, st, _ := mustCreateRunningSubtask(t, ctx, s, false)

	payload := []byte(`{"task_id":"` + itoa(st.TaskID) + `","subtask_id":"` + itoa(st.ID) + `","status":"failed","status_code":500,"error_message":"boom"}`)
	ing.HandleResult("meek/AA:01/result", payload)
	ing.taskState.Stop()

	got, err := s.GetSubTask(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusError, got.Status)
	require.Equal(t, "boom", got.LastError)
}

func TestHandleResultReleasesNodeCapacity(t *testing.T) {
	ctx := context.Background()
	ing, s, _ := setupTestIngester(t)
	_, st, node := mustCreateRunningSubtask(t, ctx, s, false)

	payload := []byte(`{"task_id":"` + itoa(st.TaskID) + `","subtask_id":"` + itoa(st.ID) + `","status":"completed","status_code":200}`)
	ing.HandleResult("meek/AA:01/result", payload)
	ing.taskState.Stop()

	got, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.TaskCounts["image"])
}

func TestHandleResultPersistsResultsWhenTaskRequestsIt(t *testing.T) {
	ctx := context.Background()
	ing, s, _ := setupTestIngester(t)
	_, st, _ := mustCreateRunningSubtask(t, ctx, s, true)

	payload := []byte(`{"task_id":"` + itoa(st.TaskID) + `","subtask_id":"` + itoa(st.ID) + `","status":"completed","status_code":200,"results":{"boxes":3},"frame_count":10}`)
	ing.HandleResult("meek/AA:01/result", payload)
	ing.taskState.Stop()

	raw, err := s.GetSubTaskResult(ctx, st.ID)
	require.NoError(t, err)
	require.Contains(t, raw, "boxes")
}

func TestHandleResultProcessingLeavesSubtaskRunning(t *testing.T) {
	ctx := context.Background()
	ing, s, _ := setupTestIngester(t)
	_, st, _ := mustCreateRunningSubtask(t, ctx, s, false)

	payload := []byte(`{"task_id":"` + itoa(st.TaskID) + `","subtask_id":"` + itoa(st.ID) + `","status":"processing","status_code":0}`)
	require.NotPanics(t, func() { ing.HandleResult("meek/AA:01/result", payload) })

	got, err := s.GetSubTask(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, got.Status)
}

func TestHandleCallbackUsesMACFromBody(t *testing.T) {
	ctx := context.Background()
	ing, s, _ := setupTestIngester(t)
	_, st, node := mustCreateRunningSubtask(t, ctx, s, false)

	payload := []byte(`{"task_id":"` + itoa(st.TaskID) + `","subtask_id":"` + itoa(st.ID) + `","status":"completed","status_code":200,"mac_address":"AA:01"}`)
	require.NoError(t, ing.HandleCallback(payload))
	ing.taskState.Stop()

	got, err := s.GetSubTask(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, got.Status)

	gotNode, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	require.Equal(t, 0, gotNode.TaskCounts["image"])
}

func TestHandleCallbackRejectsMalformedPayload(t *testing.T) {
	ing, _, _ := setupTestIngester(t)
	require.Error(t, ing.HandleCallback([]byte(`not json`)))
}

func TestMacFromTopicExtractsMiddleSegment(t *testing.T) {
	require.Equal(t, "AA:01", macFromTopic("meek/AA:01/result"))
	require.Equal(t, "", macFromTopic("meek"))
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
