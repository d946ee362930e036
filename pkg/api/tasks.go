package api

import (
	"context"
	"net/http"

	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/types"
)

// defaultRetryPriority is the priority a freshly-started subtask
// enters the retry queue at when Dispatch can't place it immediately;
// the middle of the 0..3 scale (spec.md §4.8), leaving room for the
// retry queue's one-level demotion after each failed attempt.
const defaultRetryPriority = 2

// userStopMarker is the stable Task.last_error value set when a task
// is stopped via handleTaskStop, distinguishing a user-initiated stop
// from an error-driven one on the status endpoint (spec.md §7).
const userStopMarker = "任务由用户手动停止"

type createTaskRequest struct {
	Name             string   `json:"name"`
	AnalysisType     int      `json:"analysis_type"`
	ModelIDs         []int64  `json:"model_ids"`
	StreamIDs        []int64  `json:"stream_ids"`
	ImageURLs        []string `json:"image_urls"`
	VideoURLs        []string `json:"video_urls"`
	Config           string   `json:"config"`
	SaveResult       bool     `json:"save_result"`
	SaveImages       bool     `json:"save_images"`
	AnalysisInterval int      `json:"analysis_interval"`
}

// parseAnalysisKind maps the 1-indexed wire analysis_type (1 image, 2
// video, 3 stream; spec.md scenario 1's `analysis_type: 3 (stream)`)
// to the internal 0-indexed types.AnalysisKind.
func parseAnalysisKind(n int) (types.AnalysisKind, bool) {
	switch n {
	case 1:
		return types.AnalysisImage, true
	case 2:
		return types.AnalysisVideo, true
	case 3:
		return types.AnalysisStream, true
	default:
		return 0, false
	}
}

// handleTaskCreate creates a task and fans it out into subtasks
// (spec.md §5 item 7): one subtask per model for an image/video task,
// sharing the task's whole URL list; one subtask per (model, stream)
// pair for a stream task.
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "malformed request body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "name is required")
		return
	}
	kind, ok := parseAnalysisKind(req.AnalysisType)
	if !ok {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "analysis_type must be 1 (image), 2 (video), or 3 (stream)")
		return
	}
	if len(req.ModelIDs) == 0 {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "model_ids must not be empty")
		return
	}

	var urls []string
	switch kind {
	case types.AnalysisStream:
		if len(req.StreamIDs) == 0 {
			writeError(w, http.StatusBadRequest, kindInvalidInput, "stream_ids must not be empty for a stream task")
			return
		}
	case types.AnalysisImage:
		urls = req.ImageURLs
		if len(urls) == 0 {
			writeError(w, http.StatusBadRequest, kindInvalidInput, "image_urls must not be empty for an image task")
			return
		}
	case types.AnalysisVideo:
		urls = req.VideoURLs
		if len(urls) == 0 {
			writeError(w, http.StatusBadRequest, kindInvalidInput, "video_urls must not be empty for a video task")
			return
		}
	}

	ctx := r.Context()
	task := &types.Task{
		Name:             req.Name,
		Kind:             kind,
		ModelIDs:         req.ModelIDs,
		StreamIDs:        req.StreamIDs,
		URLs:             urls,
		ConfigBlob:       req.Config,
		SaveResult:       req.SaveResult,
		SaveImages:       req.SaveImages,
		AnalysisInterval: req.AnalysisInterval,
	}
	taskID, err := s.store.CreateTask(ctx, task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "create task: "+err.Error())
		return
	}

	if err := s.fanOutSubtasks(ctx, taskID, task); err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "fan out subtasks: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID})
}

func (s *Server) fanOutSubtasks(ctx context.Context, taskID int64, task *types.Task) error {
	if task.Kind == types.AnalysisStream {
		for _, modelID := range task.ModelIDs {
			for _, streamID := range task.StreamIDs {
				st := &types.SubTask{
					TaskID:  taskID,
					Kind:    task.Kind,
					ModelID: modelID,
					Source:  types.Source{Kind: types.SourceLiveStream, StreamID: streamID},
				}
				if _, err := s.store.CreateSubTask(ctx, st); err != nil {
					return err
				}
			}
		}
		return nil
	}

	sourceKind := types.SourceImageBatch
	if task.Kind == types.AnalysisVideo {
		sourceKind = types.SourceVideoBatch
	}
	for _, modelID := range task.ModelIDs {
		st := &types.SubTask{
			TaskID:  taskID,
			Kind:    task.Kind,
			ModelID: modelID,
			Source:  types.Source{Kind: sourceKind, URLs: task.URLs},
		}
		if _, err := s.store.CreateSubTask(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

type taskIDRequest struct {
	TaskID int64 `json:"task_id"`
}

// handleTaskStart dispatches every pending subtask of the task,
// falling back to the retry queue for anything Dispatch can't place
// right away (spec.md §7's no-capacity kind: not an error).
func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil || req.TaskID == 0 {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "task_id is required")
		return
	}

	ctx := r.Context()
	subtasks, err := s.store.ListSubTasksByTask(ctx, req.TaskID)
	if err != nil {
		writeError(w, http.StatusNotFound, kindNotFound, "task not found")
		return
	}

	for _, st := range subtasks {
		if st.Status != types.StatusPending {
			continue
		}
		if s.dispatcher == nil {
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, st, dispatch.Options{}); err != nil {
			s.requeue(st)
		}
	}

	status, _ := deriveStatus(countByStatus(subtasks))
	writeJSON(w, http.StatusOK, map[string]any{"task_id": req.TaskID, "status": int(status)})
}

func (s *Server) requeue(st *types.SubTask) {
	if s.retryQueue == nil {
		return
	}
	s.retryQueue.Push(st.TaskID, st.ID, defaultRetryPriority)
}

// handleTaskStop transitions every non-terminal subtask of the task to
// stopped and reports the resulting derived status (spec.md §6:
// `{task_id, status: 2}`, 2 being types.StatusStopped's numeric value).
func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil || req.TaskID == 0 {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "task_id is required")
		return
	}

	ctx := r.Context()
	subtasks, err := s.store.ListSubTasksByTask(ctx, req.TaskID)
	if err != nil {
		writeError(w, http.StatusNotFound, kindNotFound, "task not found")
		return
	}

	for _, st := range subtasks {
		if st.Status != types.StatusPending && st.Status != types.StatusRunning {
			continue
		}
		if st.Status == types.StatusRunning && s.dispatcher != nil {
			if err := s.dispatcher.StopSubtask(ctx, st); err != nil {
				s.logger.Warn().Err(err).Int64("subtask_id", st.ID).Msg("publish stop command")
			}
		}
		if s.taskState == nil {
			st.Status = types.StatusStopped
			st.LastError = userStopMarker
			continue
		}
		if err := s.taskState.Transition(ctx, st, types.StatusStopped, nil, userStopMarker); err != nil {
			writeError(w, http.StatusInternalServerError, kindTransient, "stop subtask: "+err.Error())
			return
		}
	}

	status, _ := deriveStatus(countByStatus(subtasks))
	writeJSON(w, http.StatusOK, map[string]any{"task_id": req.TaskID, "status": int(status)})
}

// handleTaskDelete removes a task that is not currently running
// (spec.md §3: delete is only valid when not running).
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil || req.TaskID == 0 {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "task_id is required")
		return
	}

	ctx := r.Context()
	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		writeError(w, http.StatusNotFound, kindNotFound, "task not found")
		return
	}
	if task.Status == types.StatusRunning {
		writeError(w, http.StatusConflict, kindStatePrecond, "task is running; stop it before deleting")
		return
	}

	if err := s.store.DeleteTask(ctx, req.TaskID); err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "delete task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleTaskStatus reports the derived task status, its subtask status
// counters, and the active/total subtask counts (spec.md §7's
// user-visible behavior). Status is derived from a fresh count rather
// than the stored tasks.status column, which can lag the batch writer
// by up to its flush interval.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskIDRequest
	if err := decodeJSON(r, &req); err != nil || req.TaskID == 0 {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "task_id is required")
		return
	}

	ctx := r.Context()
	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		writeError(w, http.StatusNotFound, kindNotFound, "task not found")
		return
	}
	counts, err := s.store.CountSubTasksByTaskAndStatus(ctx, req.TaskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "count subtasks: "+err.Error())
		return
	}

	status, active := deriveStatus(counts)
	total := 0
	for _, c := range counts {
		total += c
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":    req.TaskID,
		"status":     int(status),
		"counters":   countersJSON(counts),
		"active":     active,
		"total":      total,
		"last_error": task.LastError,
	})
}

func countersJSON(counts map[types.SubTaskStatus]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, count := range counts {
		out[status.String()] = count
	}
	return out
}

func countByStatus(subtasks []*types.SubTask) map[types.SubTaskStatus]int {
	counts := make(map[types.SubTaskStatus]int, len(subtasks))
	for _, st := range subtasks {
		counts[st.Status]++
	}
	return counts
}

// deriveStatus applies spec.md §3 invariant 2 (running beats pending
// beats all-completed beats all-errored, else stopped) against a fresh
// subtask status count. Mirrors pkg/taskstate's unexported
// deriveTaskStatus exactly: the same rule is needed at both the
// batched-write path (persisting tasks.status) and this synchronous
// read path, which can't wait for the next batch flush.
func deriveStatus(counts map[types.SubTaskStatus]int) (types.TaskStatus, int) {
	total := 0
	for _, c := range counts {
		total += c
	}
	active := counts[types.StatusRunning]
	if total == 0 {
		return types.StatusPending, 0
	}
	if active > 0 {
		return types.StatusRunning, active
	}
	if counts[types.StatusPending] > 0 {
		return types.StatusPending, active
	}
	if counts[types.StatusCompleted] == total {
		return types.StatusCompleted, active
	}
	if counts[types.StatusError] == total {
		return types.StatusError, active
	}
	return types.StatusStopped, active
}
