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

type taskRow struct {
	ID               int64     `db:"id"`
	Name             string    `db:"name"`
	AnalysisKind     int       `db:"analysis_kind"`
	URLList          string    `db:"url_list"`
	ConfigBlob       string    `db:"config_blob"`
	SaveResult       bool      `db:"save_result"`
	SaveImages       bool      `db:"save_images"`
	AnalysisInterval int       `db:"analysis_interval"`
	Status           int       `db:"status"`
	ActiveSubtasks   int       `db:"active_subtasks"`
	TotalSubtasks    int       `db:"total_subtasks"`
	LastError        string    `db:"last_error"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *taskRow) toTask() (*types.Task, error) {
	var urls []string
	if err := json.Unmarshal([]byte(r.URLList), &urls); err != nil {
		return nil, fmt.Errorf("unmarshal url_list: %w", err)
	}
	return &types.Task{
		ID:               r.ID,
		Name:             r.Name,
		Kind:             types.AnalysisKind(r.AnalysisKind),
		URLs:             urls,
		ConfigBlob:       r.ConfigBlob,
		SaveResult:       r.SaveResult,
		SaveImages:       r.SaveImages,
		AnalysisInterval: r.AnalysisInterval,
		Status:           types.TaskStatus(r.Status),
		ActiveSubtasks:   r.ActiveSubtasks,
		TotalSubtasks:    r.TotalSubtasks,
		LastError:        r.LastError,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

// CreateTask inserts the task row plus its model/stream associations
// and ordered URL list in a single transaction (spec §3: "Created by
// API").
func (s *SQLiteStore) CreateTask(ctx context.Context, t *types.Task) (int64, error) {
	urls, err := json.Marshal(t.URLs)
	if err != nil {
		return 0, fmt.Errorf("marshal urls: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (name, analysis_kind, url_list, config_blob, save_result, save_images,
			analysis_interval, status, active_subtasks, total_subtasks, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '')
	`, t.Name, int(t.Kind), string(urls), t.ConfigBlob, t.SaveResult, t.SaveImages,
		t.AnalysisInterval, int(types.StatusPending))
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("task last insert id: %w", err)
	}

	for _, modelID := range t.ModelIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_models (task_id, model_id) VALUES (?, ?)`, taskID, modelID); err != nil {
			return 0, fmt.Errorf("insert task_models: %w", err)
		}
	}
	for _, streamID := range t.StreamIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_streams (task_id, stream_id) VALUES (?, ?)`, taskID, streamID); err != nil {
			return 0, fmt.Errorf("insert task_streams: %w", err)
		}
	}
	for seq, url := range t.URLs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_urls (task_id, seq, url) VALUES (?, ?, ?)`, taskID, seq, url); err != nil {
			return 0, fmt.Errorf("insert task_urls: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create task: %w", err)
	}
	return taskID, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	var r taskRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM tasks WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	t, err := r.toTask()
	if err != nil {
		return nil, err
	}
	if err := s.fillTaskRefs(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) fillTaskRefs(ctx context.Context, t *types.Task) error {
	if err := s.db.SelectContext(ctx, &t.ModelIDs, `SELECT model_id FROM task_models WHERE task_id = ? ORDER BY model_id`, t.ID); err != nil {
		return fmt.Errorf("fill model refs: %w", err)
	}
	if err := s.db.SelectContext(ctx, &t.StreamIDs, `SELECT stream_id FROM task_streams WHERE task_id = ? ORDER BY stream_id`, t.ID); err != nil {
		return fmt.Errorf("fill stream refs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*types.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM tasks ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]*types.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		if err := s.fillTaskRefs(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateTaskStatus is the write path used by pkg/taskstate's batch
// writer (spec §4.6): an idempotent absolute-value write of the
// derived status and active-subtask count.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id int64, status types.TaskStatus, activeSubtasks int, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, active_subtasks = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, int(status), activeSubtasks, lastError, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// DeleteTask removes the task and, via ON DELETE CASCADE, its
// subtasks and association rows. Callers must enforce the "only when
// not running" invariant before calling this (spec §3).
func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	out := map[types.TaskStatus]int{}
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task status count: %w", err)
		}
		out[types.TaskStatus(status)] = count
	}
	return out, rows.Err()
}
