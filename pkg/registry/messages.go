package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

// connectionMessage is the wire shape of the retained `<prefix>/connection`
// topic (spec.md §6).
type connectionMessage struct {
	Status     string `json:"status"` // "online" | "offline"
	MACAddress string `json:"mac_address"`
	ClientID   string `json:"client_id"`
	Timestamp  int64  `json:"timestamp"`
	Metadata   struct {
		IP           string   `json:"ip"`
		Port         int      `json:"port"`
		Hostname     string   `json:"hostname"`
		MaxTasks     int      `json:"max_tasks"`
		Capabilities []string `json:"capabilities"`
		Resources    struct {
			HasGPU bool    `json:"has_gpu"`
			Weight float64 `json:"weight"`
		} `json:"resources"`
	} `json:"metadata"`
}

// heartbeatMessage is the wire shape of heartbeat/status messages on
// `<prefix>/<MAC>/status` (spec.md §6).
type heartbeatMessage struct {
	Type        string         `json:"type"`
	MACAddress  string         `json:"mac_address"`
	ClientID    string         `json:"client_id"`
	CPUUsage    float64        `json:"cpu_usage"`
	MemoryUsage float64        `json:"memory_usage"`
	GPUUsage    float64        `json:"gpu_usage"`
	TaskCount   map[string]int `json:"task_count"`
	MaxTasks    int            `json:"max_tasks"`
	IsActive    bool           `json:"is_active"`
}

// HandleConnection processes a `<prefix>/connection` message,
// dispatching to the online or offline path (spec.md §4.3 items 1-2).
func (r *Registry) HandleConnection(ctx context.Context, payload []byte) error {
	var msg connectionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode connection message: %w", err)
	}
	if msg.MACAddress == "" {
		return fmt.Errorf("connection message missing mac_address")
	}

	switch msg.Status {
	case "online":
		return r.handleConnect(ctx, msg)
	case "offline":
		return r.handleDisconnect(ctx, msg.MACAddress)
	default:
		return fmt.Errorf("unknown connection status %q", msg.Status)
	}
}

func (r *Registry) handleConnect(ctx context.Context, msg connectionMessage) error {
	existing, err := r.store.GetNodeByMAC(ctx, msg.MACAddress)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("lookup existing node: %w", err)
	}

	n := &types.Node{
		MACAddress:   msg.MACAddress,
		Hostname:     msg.Metadata.Hostname,
		Address:      fmt.Sprintf("%s:%d", msg.Metadata.IP, msg.Metadata.Port),
		Capabilities: msg.Metadata.Capabilities,
		Status:       types.NodeOnline,
		HasGPU:       msg.Metadata.Resources.HasGPU,
		MaxTasks:     msg.Metadata.MaxTasks,
		Weight:       msg.Metadata.Resources.Weight,
		Active:       true,
		ClientID:     msg.ClientID,
		TaskCounts:   make(map[string]int),
	}

	if existing != nil && existing.ClientID == msg.ClientID {
		// Same worker process reconnecting: its reported task counts
		// (refreshed on the next heartbeat) are still valid.
		n.TaskCounts = existing.TaskCounts
	}
	// A changed client-id means the worker restarted with no running
	// tasks (spec.md §4.3 item 1); TaskCounts stays zeroed.

	id, err := r.store.UpsertNode(ctx, n)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	n.ID = id

	r.put(ctx, n)
	r.logger.Info().Str("mac", n.MACAddress).Str("client_id", n.ClientID).Msg("node connected")
	return nil
}

func (r *Registry) handleDisconnect(ctx context.Context, mac string) error {
	n, err := r.store.GetNodeByMAC(ctx, mac)
	if err != nil {
		return fmt.Errorf("get node %s: %w", mac, err)
	}

	if err := r.store.UpdateNodeStatus(ctx, n.ID, types.NodeOffline); err != nil {
		return fmt.Errorf("mark node offline: %w", err)
	}
	n.Status = types.NodeOffline
	r.put(ctx, n)

	r.logger.Warn().Str("mac", mac).Msg("node disconnected, awaiting health-tracker migration")
	return nil
}

// HandleHeartbeat processes a heartbeat/status message on
// `<prefix>/<MAC>/status` (spec.md §4.3 item 3). If the MAC is
// unknown and the message carries enough metadata, a new node record
// is synthesized.
func (r *Registry) HandleHeartbeat(ctx context.Context, payload []byte) error {
	var msg heartbeatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode heartbeat message: %w", err)
	}
	if msg.MACAddress == "" {
		return fmt.Errorf("heartbeat missing mac_address")
	}

	n, err := r.store.GetNodeByMAC(ctx, msg.MACAddress)
	if err != nil {
		if msg.MaxTasks == 0 {
			return fmt.Errorf("heartbeat for unknown node %s lacks metadata to synthesize a record", msg.MACAddress)
		}
		n = &types.Node{MACAddress: msg.MACAddress, ClientID: msg.ClientID, Active: true}
	}

	n.CPUUsage = msg.CPUUsage
	n.MemoryUsage = msg.MemoryUsage
	n.GPUUsage = msg.GPUUsage
	n.TaskCounts = msg.TaskCount
	n.Active = msg.IsActive
	if msg.MaxTasks > 0 {
		n.MaxTasks = msg.MaxTasks
	}

	if n.ID == 0 {
		n.Status = types.NodeOnline
		id, err := r.store.UpsertNode(ctx, n)
		if err != nil {
			return fmt.Errorf("upsert synthesized node: %w", err)
		}
		n.ID = id
	}

	if err := r.store.UpdateNodeHeartbeat(ctx, n.ID, n); err != nil {
		return fmt.Errorf("update node heartbeat: %w", err)
	}
	n.Status = types.NodeOnline

	r.put(ctx, n)
	return nil
}

func marshalNode(n *types.Node) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
