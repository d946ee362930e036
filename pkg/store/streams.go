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

type streamRow struct {
	ID        int64     `db:"id"`
	URL       string    `db:"url"`
	Name      string    `db:"name"`
	Online    bool      `db:"online"`
	GroupRefs string    `db:"group_refs"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *streamRow) toStream() (*types.Stream, error) {
	var refs []string
	if err := json.Unmarshal([]byte(r.GroupRefs), &refs); err != nil {
		return nil, fmt.Errorf("unmarshal group_refs: %w", err)
	}
	return &types.Stream{
		ID:        r.ID,
		URL:       r.URL,
		Name:      r.Name,
		Online:    r.Online,
		GroupRefs: refs,
		CreatedAt: r.CreatedAt,
	}, nil
}

func (s *SQLiteStore) CreateStream(ctx context.Context, st *types.Stream) (int64, error) {
	refs, err := json.Marshal(st.GroupRefs)
	if err != nil {
		return 0, fmt.Errorf("marshal group_refs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO streams (url, name, online, group_refs) VALUES (?, ?, ?, ?)
	`, st.URL, st.Name, st.Online, string(refs))
	if err != nil {
		return 0, fmt.Errorf("create stream: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetStream(ctx context.Context, id int64) (*types.Stream, error) {
	var r streamRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM streams WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stream %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return r.toStream()
}

func (s *SQLiteStore) ListStreams(ctx context.Context) ([]*types.Stream, error) {
	var rows []streamRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM streams ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	out := make([]*types.Stream, 0, len(rows))
	for _, r := range rows {
		st, err := r.toStream()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ListStreamsReferencedByRunningTasks supports the stream monitor's
// rule (spec §4.9): only probe streams referenced by at least one
// running task.
func (s *SQLiteStore) ListStreamsReferencedByRunningTasks(ctx context.Context) ([]*types.Stream, error) {
	var rows []streamRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT streams.* FROM streams
		JOIN subtasks ON subtasks.source_stream_id = streams.id
		WHERE subtasks.status = ?
	`, int(types.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list referenced streams: %w", err)
	}
	out := make([]*types.Stream, 0, len(rows))
	for _, r := range rows {
		st, err := r.toStream()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateStreamOnline(ctx context.Context, id int64, online bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE streams SET online = ? WHERE id = ?`, online, id)
	if err != nil {
		return fmt.Errorf("update stream online: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteStream(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM streams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	return nil
}
