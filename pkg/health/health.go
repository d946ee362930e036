package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/metrics"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

// DefaultInterval is the fixed cycle period when cfg.Interval is unset.
const DefaultInterval = 20 * time.Second

// DefaultOfflineMultiple marks a node offline once its last heartbeat
// is older than Interval*OfflineMultiple.
const DefaultOfflineMultiple = 2.0

// Tracker runs the fixed-interval node health cycle: detect
// unresponsive nodes, migrate their running subtasks, and keep
// pushing pending subtasks through the dispatcher.
type Tracker struct {
	store      store.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	taskState  *taskstate.Manager
	cfg        config.HealthConfig
	logger     zerolog.Logger

	migrating sync.Map // node id (int64) -> struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Tracker. cfg zero-values fall back to DefaultInterval
// and DefaultOfflineMultiple. taskState is the single writer for
// subtask status/active-count (spec.md §5): migration only ever
// writes assigned-node/worker-side id directly.
func New(s store.Store, reg *registry.Registry, d *dispatch.Dispatcher, taskState *taskstate.Manager, cfg config.HealthConfig) *Tracker {
	return &Tracker{
		store:      s,
		registry:   reg,
		dispatcher: d,
		taskState:  taskState,
		cfg:        cfg,
		logger:     log.WithComponent("health"),
		stopCh:     make(chan struct{}),
	}
}

func (t *Tracker) interval() time.Duration {
	if t.cfg.Interval <= 0 {
		return DefaultInterval
	}
	return t.cfg.Interval
}

func (t *Tracker) offlineMultiple() float64 {
	if t.cfg.OfflineMultiple <= 0 {
		return DefaultOfflineMultiple
	}
	return t.cfg.OfflineMultiple
}

// Start launches the periodic-tasks goroutine.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop signals shutdown and waits for the cycle goroutine to exit.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) run() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval())
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.cycle(context.Background())
		}
	}
}

// cycle runs one pass: offline detection, migration of the newly (and
// still) offline nodes' running subtasks, then a sweep to push any
// pending subtask through the dispatcher.
func (t *Tracker) cycle(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthCycleDuration)

	t.detectOffline(ctx)
	t.migrateOfflineNodes(ctx)
	t.dispatchPending(ctx)
}

// detectOffline flips nodes whose last heartbeat predates the offline
// threshold from online to offline.
func (t *Tracker) detectOffline(ctx context.Context) {
	nodes, err := t.registry.ListOnline(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("list online nodes")
		return
	}

	threshold := time.Duration(float64(t.interval()) * t.offlineMultiple())
	now := time.Now()
	for _, n := range nodes {
		if now.Sub(n.LastHeartbeat) <= threshold {
			continue
		}
		if err := t.store.UpdateNodeStatus(ctx, n.ID, types.NodeOffline); err != nil {
			t.logger.Error().Err(err).Int64("node_id", n.ID).Msg("mark node offline")
			continue
		}
		t.logger.Warn().Int64("node_id", n.ID).Str("mac", n.MACAddress).
			Dur("since_heartbeat", now.Sub(n.LastHeartbeat)).Msg("node marked offline")
	}
}

// migrateOfflineNodes re-homes every running subtask still assigned
// to an offline node. A sync.Map dedups concurrent cycles so the same
// node is never migrated twice in parallel.
func (t *Tracker) migrateOfflineNodes(ctx context.Context) {
	nodes, err := t.store.ListNodes(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("list nodes")
		return
	}

	for _, n := range nodes {
		if n.Status != types.NodeOffline {
			continue
		}
		if _, loaded := t.migrating.LoadOrStore(n.ID, struct{}{}); loaded {
			continue
		}
		t.migrateNode(ctx, n)
		t.migrating.Delete(n.ID)
	}
}

// migrateNode reassigns an offline node's running subtasks: each one
// either moves to a replacement node with spare capacity (preferred
// node wins regardless of score, via pkg/dispatch) or falls back to
// pending so the next dispatchPending sweep retries it once capacity
// frees up.
func (t *Tracker) migrateNode(ctx context.Context, offline *types.Node) {
	running, err := t.store.ListSubTasksByNode(ctx, offline.ID, types.StatusRunning)
	if err != nil {
		t.logger.Error().Err(err).Int64("node_id", offline.ID).Msg("list running subtasks for offline node")
		return
	}
	if len(running) == 0 {
		return
	}

	moved := map[string]int{}
	for _, st := range running {
		task, err := t.store.GetTask(ctx, st.TaskID)
		if err != nil {
			t.logger.Error().Err(err).Int64("subtask_id", st.ID).Msg("load parent task for migration")
			continue
		}
		if task.Status == types.StatusStopped {
			continue
		}

		candidates, err := t.registry.ListOnline(ctx)
		if err != nil {
			t.logger.Error().Err(err).Msg("list online nodes for migration")
			return
		}
		var replacement *types.Node
		for _, c := range candidates {
			if c.ID != offline.ID && c.Eligible() {
				replacement = c
				break
			}
		}

		st.AssignedNodeID = 0
		st.WorkerSubtaskID = ""
		if t.taskState != nil {
			if err := t.taskState.Transition(ctx, st, types.StatusPending, nil, ""); err != nil {
				t.logger.Error().Err(err).Int64("subtask_id", st.ID).Msg("reset subtask for migration")
				continue
			}
		} else {
			st.Status = types.StatusPending
			if err := t.store.UpdateSubTask(ctx, st); err != nil {
				t.logger.Error().Err(err).Int64("subtask_id", st.ID).Msg("reset subtask for migration")
				continue
			}
		}
		moved[st.Kind.String()]++

		if replacement == nil {
			t.logger.Warn().Int64("subtask_id", st.ID).Msg("no replacement node with capacity, leaving pending")
			continue
		}
		opts := dispatch.Options{PreferredNodeID: replacement.ID}
		if err := t.dispatcher.Dispatch(ctx, st, opts); err != nil && err != dispatch.ErrNoCapacity {
			t.logger.Error().Err(err).Int64("subtask_id", st.ID).Msg("redispatch migrated subtask")
		}
	}

	if len(moved) == 0 {
		return
	}
	for kind, n := range moved {
		offline.TaskCounts[kind] -= n
		if offline.TaskCounts[kind] < 0 {
			offline.TaskCounts[kind] = 0
		}
	}
	if err := t.store.UpdateNodeHeartbeat(ctx, offline.ID, offline); err != nil {
		t.logger.Error().Err(err).Int64("node_id", offline.ID).Msg("clear migrated counters on offline node")
	}
}

// dispatchPending sweeps every task for subtasks still awaiting a
// node and retries dispatch; ErrNoCapacity is expected churn, not a
// failure worth logging loudly.
func (t *Tracker) dispatchPending(ctx context.Context) {
	tasks, err := t.store.ListTasks(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("list tasks for pending sweep")
		return
	}

	for _, task := range tasks {
		if task.Status == types.StatusStopped {
			continue
		}
		subtasks, err := t.store.ListSubTasksByTask(ctx, task.ID)
		if err != nil {
			t.logger.Error().Err(err).Int64("task_id", task.ID).Msg("list subtasks for pending sweep")
			continue
		}
		for _, st := range subtasks {
			if st.Status != types.StatusPending {
				continue
			}
			if err := t.dispatcher.Dispatch(ctx, st, dispatch.Options{}); err != nil {
				if err == dispatch.ErrNoCapacity {
					continue
				}
				t.logger.Warn().Err(err).Int64("subtask_id", st.ID).Msg("dispatch pending subtask")
			}
		}
	}
}
