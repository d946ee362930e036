package api

import (
	"context"
	"net/http"
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

func TestHandleTaskCreateFansOutOnePerModelForImageTask(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()
	m1 := mustCreateModelForAPI(t, ctx, s, "yolo-v8")
	m2 := mustCreateModelForAPI(t, ctx, s, "resnet")

	rec := doJSON(t, srv, http.MethodPost, "/tasks/create", map[string]any{
		"name": "batch", "analysis_type": 1,
		"model_ids": []int64{m1, m2}, "image_urls": []string{"http://x/1.jpg", "http://x/2.jpg"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	taskID := int64(resp["task_id"].(float64))

	subtasks, err := s.ListSubTasksByTask(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	for _, st := range subtasks {
		require.Equal(t, types.SourceImageBatch, st.Source.Kind)
		require.Len(t, st.Source.URLs, 2)
	}
}

func TestHandleTaskCreateFansOutModelsByStreamsForStreamTask(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()
	m1 := mustCreateModelForAPI(t, ctx, s, "yolo-v8")
	str1, err := s.CreateStream(ctx, &types.Stream{URL: "rtsp://a"})
	require.NoError(t, err)
	str2, err := s.CreateStream(ctx, &types.Stream{URL: "rtsp://b"})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/tasks/create", map[string]any{
		"name": "live", "analysis_type": 3,
		"model_ids": []int64{m1}, "stream_ids": []int64{str1, str2},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	taskID := int64(resp["task_id"].(float64))

	subtasks, err := s.ListSubTasksByTask(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	for _, st := range subtasks {
		require.Equal(t, types.SourceLiveStream, st.Source.Kind)
	}
}

func TestHandleTaskCreateRejectsMissingModelIDs(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/tasks/create", map[string]any{
		"name": "batch", "analysis_type": 1, "image_urls": []string{"http://x/1.jpg"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTaskStopDrivesSubtasksToStoppedAndReturnsStatusTwo(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()
	modelID := mustCreateModelForAPI(t, ctx, s, "yolo-v8")
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"http://x/1.jpg"}})
	require.NoError(t, err)
	_, err = s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"http://x/1.jpg"}},
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/tasks/stop", map[string]any{"task_id": taskID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	require.Equal(t, float64(types.StatusStopped), resp["status"])
}

func TestHandleTaskStopRecordsUserStopMarker(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	reg := registry.New(s, nil)
	ts := taskstate.New(s, nil, config.TaskStateConfig{})
	d := dispatch.New(s, reg, nil, ts, config.DispatchConfig{}, "meek")
	rq := retryqueue.New(s, ts, d, nil, config.RetryConfig{})
	ing := ingest.New(s, ts, d, "meek")
	srv := New(s, reg, d, rq, ing, ts, &stubModelSyncer{}, config.HTTPConfig{Listen: ":0"}, config.ModelSyncConfig{APIKey: "secret"})

	modelID := mustCreateModelForAPI(t, ctx, s, "yolo-v8")
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"http://x/1.jpg"}})
	require.NoError(t, err)
	_, err = s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"http://x/1.jpg"}},
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/tasks/stop", map[string]any{"task_id": taskID})
	require.Equal(t, http.StatusOK, rec.Code)

	ts.Stop() // force the pending batch to flush before reading the store directly

	subtasks, err := s.ListSubTasksByTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, userStopMarker, subtasks[0].LastError)
}

func TestHandleTaskDeleteRejectsRunningTask(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"http://x/1.jpg"}})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskStatus(ctx, taskID, types.StatusRunning, 1, ""))

	rec := doJSON(t, srv, http.MethodPost, "/tasks/delete", map[string]any{"task_id": taskID})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleTaskStatusComputesCountersLive(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()
	modelID := mustCreateModelForAPI(t, ctx, s, "yolo-v8")
	taskID, err := s.CreateTask(ctx, &types.Task{Name: "t", Kind: types.AnalysisImage, URLs: []string{"http://x/1.jpg"}})
	require.NoError(t, err)
	stID, err := s.CreateSubTask(ctx, &types.SubTask{
		TaskID: taskID, Kind: types.AnalysisImage, ModelID: modelID,
		Source: types.Source{Kind: types.SourceImageBatch, URLs: []string{"http://x/1.jpg"}},
	})
	require.NoError(t, err)
	st, err := s.GetSubTask(ctx, stID)
	require.NoError(t, err)
	st.Status = types.StatusRunning
	require.NoError(t, s.UpdateSubTask(ctx, st))

	rec := doJSON(t, srv, http.MethodPost, "/tasks/status", map[string]any{"task_id": taskID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	require.Equal(t, float64(types.StatusRunning), resp["status"])
	require.Equal(t, float64(1), resp["active"])
	require.Equal(t, float64(1), resp["total"])
}
