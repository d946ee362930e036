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

type nodeRow struct {
	ID            int64      `db:"id"`
	MACAddress    string     `db:"mac_address"`
	Hostname      string     `db:"hostname"`
	Address       string     `db:"address"`
	Capabilities  string     `db:"capabilities"`
	Status        string     `db:"status"`
	LastHeartbeat *time.Time `db:"last_heartbeat"`
	TaskCounts    string     `db:"task_counts"`
	CPUUsage      float64    `db:"cpu_usage"`
	MemoryUsage   float64    `db:"memory_usage"`
	GPUUsage      float64    `db:"gpu_usage"`
	HasGPU        bool       `db:"has_gpu"`
	MaxTasks      int        `db:"max_tasks"`
	Weight        float64    `db:"weight"`
	Active        bool       `db:"active"`
	ClientID      string     `db:"client_id"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (r *nodeRow) toNode() (*types.Node, error) {
	var caps []string
	if err := json.Unmarshal([]byte(r.Capabilities), &caps); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	counts := map[string]int{}
	if err := json.Unmarshal([]byte(r.TaskCounts), &counts); err != nil {
		return nil, fmt.Errorf("unmarshal task_counts: %w", err)
	}
	n := &types.Node{
		ID:           r.ID,
		MACAddress:   r.MACAddress,
		Hostname:     r.Hostname,
		Address:      r.Address,
		Capabilities: caps,
		Status:       types.NodeStatus(r.Status),
		TaskCounts:   counts,
		CPUUsage:     r.CPUUsage,
		MemoryUsage:  r.MemoryUsage,
		GPUUsage:     r.GPUUsage,
		HasGPU:       r.HasGPU,
		MaxTasks:     r.MaxTasks,
		Weight:       r.Weight,
		Active:       r.Active,
		ClientID:     r.ClientID,
		CreatedAt:    r.CreatedAt,
	}
	if r.LastHeartbeat != nil {
		n.LastHeartbeat = *r.LastHeartbeat
	}
	return n, nil
}

// UpsertNode creates the node if its MAC is unseen, or updates the
// mutable fields (everything but id/mac/created_at) otherwise.
func (s *SQLiteStore) UpsertNode(ctx context.Context, n *types.Node) (int64, error) {
	caps, err := json.Marshal(n.Capabilities)
	if err != nil {
		return 0, fmt.Errorf("marshal capabilities: %w", err)
	}
	counts, err := json.Marshal(n.TaskCounts)
	if err != nil {
		return 0, fmt.Errorf("marshal task_counts: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (mac_address, hostname, address, capabilities, status, last_heartbeat,
			task_counts, cpu_usage, memory_usage, gpu_usage, has_gpu, max_tasks, weight, active, client_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac_address) DO UPDATE SET
			hostname=excluded.hostname, address=excluded.address, capabilities=excluded.capabilities,
			status=excluded.status, last_heartbeat=excluded.last_heartbeat, task_counts=excluded.task_counts,
			cpu_usage=excluded.cpu_usage, memory_usage=excluded.memory_usage, gpu_usage=excluded.gpu_usage,
			has_gpu=excluded.has_gpu, max_tasks=excluded.max_tasks, weight=excluded.weight,
			active=excluded.active, client_id=excluded.client_id
	`, n.MACAddress, n.Hostname, n.Address, string(caps), string(n.Status), n.LastHeartbeat,
		string(counts), n.CPUUsage, n.MemoryUsage, n.GPUUsage, n.HasGPU, n.MaxTasks, n.Weight, n.Active, n.ClientID)
	if err != nil {
		return 0, fmt.Errorf("upsert node: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}

	existing, err := s.GetNodeByMAC(ctx, n.MACAddress)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, id int64) (*types.Node, error) {
	var r nodeRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM nodes WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get node: %w", err)
	}
	return r.toNode()
}

func (s *SQLiteStore) GetNodeByMAC(ctx context.Context, mac string) (*types.Node, error) {
	var r nodeRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM nodes WHERE mac_address = ?`, mac); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node %s: %w", mac, ErrNotFound)
		}
		return nil, fmt.Errorf("get node by mac: %w", err)
	}
	return r.toNode()
}

func (s *SQLiteStore) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM nodes ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	out := make([]*types.Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLiteStore) ListOnlineNodes(ctx context.Context) ([]*types.Node, error) {
	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM nodes WHERE status = ? ORDER BY id`, string(types.NodeOnline)); err != nil {
		return nil, fmt.Errorf("list online nodes: %w", err)
	}
	out := make([]*types.Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateNodeStatus(ctx context.Context, id int64, status types.NodeStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update node status: %w", err)
	}
	return nil
}

// UpdateNodeHeartbeat refreshes resource gauges and marks the node
// online as of now.
func (s *SQLiteStore) UpdateNodeHeartbeat(ctx context.Context, id int64, n *types.Node) error {
	counts, err := json.Marshal(n.TaskCounts)
	if err != nil {
		return fmt.Errorf("marshal task_counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE nodes SET status = ?, last_heartbeat = ?, task_counts = ?,
			cpu_usage = ?, memory_usage = ?, gpu_usage = ?
		WHERE id = ?
	`, string(types.NodeOnline), time.Now().UTC(), string(counts), n.CPUUsage, n.MemoryUsage, n.GPUUsage, id)
	if err != nil {
		return fmt.Errorf("update node heartbeat: %w", err)
	}
	return nil
}
