package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/meek/pkg/types"
)

type subtaskRow struct {
	ID              int64      `db:"id"`
	TaskID          int64      `db:"task_id"`
	Kind            int        `db:"kind"`
	ModelID         int64      `db:"model_id"`
	SourceKind      int        `db:"source_kind"`
	SourceURLs      string     `db:"source_urls"`
	SourceStreamID  int64      `db:"source_stream_id"`
	AnalysisDetail  string     `db:"analysis_detail"`
	ConfigBlob      string     `db:"config_blob"`
	Status          int        `db:"status"`
	AssignedNodeID  *int64     `db:"assigned_node_id"`
	WorkerSubtaskID *string    `db:"worker_subtask_id"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	LastError       string     `db:"last_error"`
	RetryCount      int        `db:"retry_count"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (r *subtaskRow) toSubTask() (*types.SubTask, error) {
	var urls []string
	if err := json.Unmarshal([]byte(r.SourceURLs), &urls); err != nil {
		return nil, fmt.Errorf("unmarshal source_urls: %w", err)
	}
	st := &types.SubTask{
		ID:     r.ID,
		TaskID: r.TaskID,
		Kind:   types.AnalysisKind(r.Kind),
		ModelID: r.ModelID,
		Source: types.Source{
			Kind:     types.SourceKind(r.SourceKind),
			URLs:     urls,
			StreamID: r.SourceStreamID,
		},
		AnalysisDetail: r.AnalysisDetail,
		ConfigBlob:     r.ConfigBlob,
		Status:         types.SubTaskStatus(r.Status),
		LastError:      r.LastError,
		RetryCount:     r.RetryCount,
		CreatedAt:      r.CreatedAt,
	}
	if r.AssignedNodeID != nil {
		st.AssignedNodeID = *r.AssignedNodeID
	}
	if r.WorkerSubtaskID != nil {
		st.WorkerSubtaskID = *r.WorkerSubtaskID
	}
	st.StartedAt = r.StartedAt
	st.CompletedAt = r.CompletedAt
	return st, nil
}

func (s *SQLiteStore) CreateSubTask(ctx context.Context, st *types.SubTask) (int64, error) {
	urls, err := json.Marshal(st.Source.URLs)
	if err != nil {
		return 0, fmt.Errorf("marshal source urls: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (task_id, kind, model_id, source_kind, source_urls, source_stream_id,
			analysis_detail, config_blob, status, last_error, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0)
	`, st.TaskID, int(st.Kind), st.ModelID, int(st.Source.Kind), string(urls), st.Source.StreamID,
		st.AnalysisDetail, st.ConfigBlob, int(types.StatusPending))
	if err != nil {
		return 0, fmt.Errorf("create subtask: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetSubTask(ctx context.Context, id int64) (*types.SubTask, error) {
	var r subtaskRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM subtasks WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subtask %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get subtask: %w", err)
	}
	return r.toSubTask()
}

func (s *SQLiteStore) ListSubTasksByTask(ctx context.Context, taskID int64) ([]*types.SubTask, error) {
	var rows []subtaskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM subtasks WHERE task_id = ? ORDER BY id`, taskID); err != nil {
		return nil, fmt.Errorf("list subtasks by task: %w", err)
	}
	return subtaskRowsToSlice(rows)
}

func (s *SQLiteStore) ListSubTasksByNode(ctx context.Context, nodeID int64, status types.SubTaskStatus) ([]*types.SubTask, error) {
	var rows []subtaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM subtasks WHERE assigned_node_id = ? AND status = ? ORDER BY id
	`, nodeID, int(status))
	if err != nil {
		return nil, fmt.Errorf("list subtasks by node: %w", err)
	}
	return subtaskRowsToSlice(rows)
}

// ListRunningSubTasksByStream supports the stream monitor's
// referenced-streams query from the other direction: all running
// subtasks analyzing a given stream.
func (s *SQLiteStore) ListRunningSubTasksByStream(ctx context.Context, streamID int64) ([]*types.SubTask, error) {
	var rows []subtaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM subtasks WHERE source_stream_id = ? AND status = ? ORDER BY id
	`, streamID, int(types.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running subtasks by stream: %w", err)
	}
	return subtaskRowsToSlice(rows)
}

func subtaskRowsToSlice(rows []subtaskRow) ([]*types.SubTask, error) {
	out := make([]*types.SubTask, 0, len(rows))
	for _, r := range rows {
		st, err := r.toSubTask()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// UpdateSubTask persists the full mutable subtask state: status,
// assignment, worker-side id, timestamps, error and retry count.
func (s *SQLiteStore) UpdateSubTask(ctx context.Context, st *types.SubTask) error {
	var assignedNodeID *int64
	if st.AssignedNodeID != 0 {
		assignedNodeID = &st.AssignedNodeID
	}
	var workerSubtaskID *string
	if st.WorkerSubtaskID != "" {
		workerSubtaskID = &st.WorkerSubtaskID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE subtasks SET status = ?, assigned_node_id = ?, worker_subtask_id = ?,
			started_at = ?, completed_at = ?, last_error = ?, retry_count = ?
		WHERE id = ?
	`, int(st.Status), assignedNodeID, workerSubtaskID, st.StartedAt, st.CompletedAt,
		st.LastError, st.RetryCount, st.ID)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountSubTasksByStatus(ctx context.Context) (map[types.SubTaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM subtasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subtasks by status: %w", err)
	}
	defer rows.Close()

	out := map[types.SubTaskStatus]int{}
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan subtask status count: %w", err)
		}
		out[types.SubTaskStatus(status)] = count
	}
	return out, rows.Err()
}

// CountSubTasksByTaskAndStatus backs the Task status-derivation rule
// (spec §3 invariant 2): Task.Status is computed from its subtasks'
// per-status counts.
func (s *SQLiteStore) CountSubTasksByTaskAndStatus(ctx context.Context, taskID int64) (map[types.SubTaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM subtasks WHERE task_id = ? GROUP BY status`, taskID)
	if err != nil {
		return nil, fmt.Errorf("count subtasks by task and status: %w", err)
	}
	defer rows.Close()

	out := map[types.SubTaskStatus]int{}
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan subtask status count: %w", err)
		}
		out[types.SubTaskStatus(status)] = count
	}
	return out, rows.Err()
}
