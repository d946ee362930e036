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

type modelRow struct {
	ID         int64     `db:"id"`
	Code       string    `db:"code"`
	Version    string    `db:"version"`
	ClassCount int       `db:"class_count"`
	ClassNames string    `db:"class_names"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *modelRow) toModel() (*types.Model, error) {
	names := map[int]string{}
	if err := json.Unmarshal([]byte(r.ClassNames), &names); err != nil {
		return nil, fmt.Errorf("unmarshal class_names: %w", err)
	}
	return &types.Model{
		ID:         r.ID,
		Code:       r.Code,
		Version:    r.Version,
		ClassCount: r.ClassCount,
		ClassNames: names,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// UpsertModel is the write path for the model marketplace sync
// (SPEC_FULL.md §6.2): models are keyed by their marketplace code.
func (s *SQLiteStore) UpsertModel(ctx context.Context, m *types.Model) (int64, error) {
	names, err := json.Marshal(m.ClassNames)
	if err != nil {
		return 0, fmt.Errorf("marshal class_names: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO models (code, version, class_count, class_names, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(code) DO UPDATE SET
			version=excluded.version, class_count=excluded.class_count,
			class_names=excluded.class_names, updated_at=CURRENT_TIMESTAMP
	`, m.Code, m.Version, m.ClassCount, string(names))
	if err != nil {
		return 0, fmt.Errorf("upsert model: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	if err := s.db.GetContext(ctx, &id, `SELECT id FROM models WHERE code = ?`, m.Code); err != nil {
		return 0, fmt.Errorf("lookup upserted model: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetModel(ctx context.Context, id int64) (*types.Model, error) {
	var r modelRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM models WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("model %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get model: %w", err)
	}
	return r.toModel()
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]*types.Model, error) {
	var rows []modelRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM models ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]*types.Model, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
