// Package store is the persistence layer for tasks, subtasks, nodes,
// streams and models: a SQLite-backed implementation of the Store
// interface, reached through sqlx for convenience scanning.
package store

import (
	"context"

	"github.com/cuemby/meek/pkg/types"
)

// Store is the persistence interface every other package depends on.
// The SQL store is authoritative for identity and lifecycle; callers
// needing a fast read path (node snapshots, task counters) layer a
// cache in front of it rather than bypassing it.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *types.Task) (int64, error)
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	ListTasks(ctx context.Context) ([]*types.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status types.TaskStatus, activeSubtasks int, lastError string) error
	DeleteTask(ctx context.Context, id int64) error
	CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int, error)

	// SubTasks
	CreateSubTask(ctx context.Context, st *types.SubTask) (int64, error)
	GetSubTask(ctx context.Context, id int64) (*types.SubTask, error)
	ListSubTasksByTask(ctx context.Context, taskID int64) ([]*types.SubTask, error)
	ListSubTasksByNode(ctx context.Context, nodeID int64, status types.SubTaskStatus) ([]*types.SubTask, error)
	ListRunningSubTasksByStream(ctx context.Context, streamID int64) ([]*types.SubTask, error)
	UpdateSubTask(ctx context.Context, st *types.SubTask) error
	CountSubTasksByStatus(ctx context.Context) (map[types.SubTaskStatus]int, error)
	CountSubTasksByTaskAndStatus(ctx context.Context, taskID int64) (map[types.SubTaskStatus]int, error)
	SaveSubTaskResult(ctx context.Context, subtaskID int64, results string, frameCount int) error
	GetSubTaskResult(ctx context.Context, subtaskID int64) (string, error)

	// FlushTaskBatch persists every touched subtask row and the parent
	// task's derived status/active-count/last-error as a single SQL
	// transaction (spec.md §4.6): the task state manager's batch writer
	// is the only caller, and a task must never be observable mid-flush.
	FlushTaskBatch(ctx context.Context, taskID int64, subtasks []*types.SubTask, status types.TaskStatus, active int, lastError string) error

	// Nodes
	UpsertNode(ctx context.Context, n *types.Node) (int64, error)
	GetNode(ctx context.Context, id int64) (*types.Node, error)
	GetNodeByMAC(ctx context.Context, mac string) (*types.Node, error)
	ListNodes(ctx context.Context) ([]*types.Node, error)
	ListOnlineNodes(ctx context.Context) ([]*types.Node, error)
	UpdateNodeStatus(ctx context.Context, id int64, status types.NodeStatus) error
	UpdateNodeHeartbeat(ctx context.Context, id int64, n *types.Node) error

	// Streams
	CreateStream(ctx context.Context, s *types.Stream) (int64, error)
	GetStream(ctx context.Context, id int64) (*types.Stream, error)
	ListStreams(ctx context.Context) ([]*types.Stream, error)
	ListStreamsReferencedByRunningTasks(ctx context.Context) ([]*types.Stream, error)
	UpdateStreamOnline(ctx context.Context, id int64, online bool) error
	DeleteStream(ctx context.Context, id int64) error

	// Models
	UpsertModel(ctx context.Context, m *types.Model) (int64, error)
	GetModel(ctx context.Context, id int64) (*types.Model, error)
	ListModels(ctx context.Context) ([]*types.Model, error)

	Close() error
}
