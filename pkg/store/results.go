package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveSubTaskResult upserts the results blob persisted for a subtask
// when its parent task's save-result flag is set (spec.md §4.7). A
// subtask can be the target of more than one result message over its
// lifetime (stream analysis reports progress); the latest write wins.
func (s *SQLiteStore) SaveSubTaskResult(ctx context.Context, subtaskID int64, results string, frameCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtask_results (subtask_id, results, frame_count)
		VALUES (?, ?, ?)
		ON CONFLICT(subtask_id) DO UPDATE SET results = excluded.results, frame_count = excluded.frame_count
	`, subtaskID, results, frameCount)
	if err != nil {
		return fmt.Errorf("save subtask result: %w", err)
	}
	return nil
}

// GetSubTaskResult returns the persisted results blob for a subtask.
func (s *SQLiteStore) GetSubTaskResult(ctx context.Context, subtaskID int64) (string, error) {
	var results string
	err := s.db.GetContext(ctx, &results, `SELECT results FROM subtask_results WHERE subtask_id = ?`, subtaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("result for subtask %d: %w", subtaskID, ErrNotFound)
		}
		return "", fmt.Errorf("get subtask result: %w", err)
	}
	return results, nil
}
