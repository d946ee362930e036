package store

import (
	"context"
	"fmt"

	"github.com/cuemby/meek/pkg/types"
)

// FlushTaskBatch writes every subtask in subtasks and the parent task's
// derived status/active-count/last-error inside one transaction, so a
// reader never observes some subtask rows updated and the task row
// stale, or vice versa (spec.md §4.6).
func (s *SQLiteStore) FlushTaskBatch(ctx context.Context, taskID int64, subtasks []*types.SubTask, status types.TaskStatus, active int, lastError string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	for _, st := range subtasks {
		var assignedNodeID *int64
		if st.AssignedNodeID != 0 {
			assignedNodeID = &st.AssignedNodeID
		}
		var workerSubtaskID *string
		if st.WorkerSubtaskID != "" {
			workerSubtaskID = &st.WorkerSubtaskID
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE subtasks SET status = ?, assigned_node_id = ?, worker_subtask_id = ?,
				started_at = ?, completed_at = ?, last_error = ?, retry_count = ?
			WHERE id = ?
		`, int(st.Status), assignedNodeID, workerSubtaskID, st.StartedAt, st.CompletedAt,
			st.LastError, st.RetryCount, st.ID); err != nil {
			return fmt.Errorf("update subtask %d: %w", st.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, active_subtasks = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, int(status), active, lastError, taskID); err != nil {
		return fmt.Errorf("update task %d status: %w", taskID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush transaction: %w", err)
	}
	return nil
}
