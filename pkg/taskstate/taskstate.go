// Package taskstate is the task state manager (spec.md §4.6): the
// single writer for task and subtask status fields and active-subtask
// count. It keeps a `{status: count}` aggregate per task in memory
// (mirrored to the cache when one is configured), applies every
// subtask transition immediately to that aggregate, and lets a
// background batcher flush the accumulated SQL writes every
// BatchInterval (default 100ms).
//
// Grounded on cuemby-warren/pkg/manager's Apply/Command idiom: a
// single mutex-guarded entry point that mutates authoritative state,
// generalized here from "apply one committed Raft log entry" to
// "apply one subtask transition, batch its SQL write".
package taskstate

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/cache"
	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

// DefaultBatchInterval is the flush period when cfg.BatchInterval is unset.
const DefaultBatchInterval = 100 * time.Millisecond

// Manager owns the per-task status-count aggregate and batches its SQL
// writes.
type Manager struct {
	store  store.Store
	cache  *cache.Client
	cfg    config.TaskStateConfig
	logger zerolog.Logger

	mu              sync.Mutex
	counters        map[int64]map[types.SubTaskStatus]int
	pendingTasks    map[int64]struct{}
	pendingSubtasks map[int64]*types.SubTask

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Manager. redisClient may be nil, in which case the
// aggregate lives only in process memory.
func New(s store.Store, redisClient *cache.Client, cfg config.TaskStateConfig) *Manager {
	return &Manager{
		store:           s,
		cache:           redisClient,
		cfg:             cfg,
		logger:          log.WithComponent("taskstate"),
		counters:        make(map[int64]map[types.SubTaskStatus]int),
		pendingTasks:    make(map[int64]struct{}),
		pendingSubtasks: make(map[int64]*types.SubTask),
		stopCh:          make(chan struct{}),
	}
}

func (m *Manager) batchInterval() time.Duration {
	if m.cfg.BatchInterval <= 0 {
		return DefaultBatchInterval
	}
	return m.cfg.BatchInterval
}

// Start launches the periodic batch writer.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals shutdown, waits for the writer goroutine, and flushes
// once more so nothing accumulated since the last tick is lost.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.flush(context.Background())
}

func (m *Manager) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.batchInterval())
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.flush(context.Background())
		}
	}
}

// Transition applies one subtask status change: it updates the
// in-memory (and cache-mirrored) counter aggregate immediately, writes
// st's new fields in place, and enqueues both the subtask and its
// parent task for the next batch flush (spec.md §4.6 steps 1-5).
func (m *Manager) Transition(ctx context.Context, st *types.SubTask, newStatus types.SubTaskStatus, completedAt *time.Time, lastError string) error {
	m.mu.Lock()
	counts, err := m.loadCountsLocked(ctx, st.TaskID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	oldStatus := st.Status
	counts[oldStatus]--
	if counts[oldStatus] < 0 {
		counts[oldStatus] = 0
	}
	counts[newStatus]++

	st.Status = newStatus
	if completedAt != nil {
		st.CompletedAt = completedAt
	}
	if lastError != "" {
		st.LastError = lastError
	}

	m.pendingTasks[st.TaskID] = struct{}{}
	cp := *st
	m.pendingSubtasks[st.ID] = &cp
	m.mu.Unlock()

	m.writeCache(ctx, st.TaskID, counts, st.ID, newStatus)
	return nil
}

// loadCountsLocked returns the in-memory counter map for taskID,
// synthesizing it from the cache or, failing that, from SQL on first
// touch. Caller holds m.mu.
func (m *Manager) loadCountsLocked(ctx context.Context, taskID int64) (map[types.SubTaskStatus]int, error) {
	if c, ok := m.counters[taskID]; ok {
		return c, nil
	}

	if m.cache != nil {
		if raw, ok, err := m.cache.Get(ctx, cache.TaskCountersKey(taskID)); err == nil && ok {
			var wire map[string]int
			if err := json.Unmarshal([]byte(raw), &wire); err == nil {
				counts := make(map[types.SubTaskStatus]int, len(wire))
				for k, v := range wire {
					n, err := strconv.Atoi(k)
					if err != nil {
						continue
					}
					counts[types.SubTaskStatus(n)] = v
				}
				m.counters[taskID] = counts
				return counts, nil
			}
		}
	}

	raw, err := m.store.CountSubTasksByTaskAndStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	counts := make(map[types.SubTaskStatus]int, len(raw))
	for k, v := range raw {
		counts[k] = v
	}
	m.counters[taskID] = counts
	return counts, nil
}

func (m *Manager) writeCache(ctx context.Context, taskID int64, counts map[types.SubTaskStatus]int, subtaskID int64, status types.SubTaskStatus) {
	if m.cache == nil {
		return
	}
	wire := make(map[string]int, len(counts))
	for k, v := range counts {
		wire[strconv.Itoa(int(k))] = v
	}
	if raw, err := json.Marshal(wire); err == nil {
		if err := m.cache.Set(ctx, cache.TaskCountersKey(taskID), string(raw), 0); err != nil {
			m.logger.Warn().Err(err).Int64("task_id", taskID).Msg("mirror task counters to cache")
		}
	}
	if err := m.cache.Set(ctx, cache.SubtaskStatusKey(subtaskID), strconv.Itoa(int(status)), 0); err != nil {
		m.logger.Warn().Err(err).Int64("subtask_id", subtaskID).Msg("mirror subtask status to cache")
	}
}

// flush drains the pending sets and writes one batch per touched task.
// A task whose write fails is put back on the pending set so the next
// tick retries it; writes are idempotent absolute-value updates, so
// at-least-once batching is safe (spec.md §4.6).
func (m *Manager) flush(ctx context.Context) {
	m.mu.Lock()
	if len(m.pendingTasks) == 0 {
		m.mu.Unlock()
		return
	}
	tasks := m.pendingTasks
	subtasks := m.pendingSubtasks
	m.pendingTasks = make(map[int64]struct{})
	m.pendingSubtasks = make(map[int64]*types.SubTask)
	m.mu.Unlock()

	byTask := make(map[int64][]*types.SubTask)
	for _, st := range subtasks {
		byTask[st.TaskID] = append(byTask[st.TaskID], st)
	}

	retry := make(map[int64]struct{})
	for taskID := range tasks {
		if err := m.flushTask(ctx, taskID, byTask[taskID]); err != nil {
			m.logger.Error().Err(err).Int64("task_id", taskID).Msg("flush task batch, will retry")
			retry[taskID] = struct{}{}
		}
	}

	if len(retry) == 0 {
		return
	}
	m.mu.Lock()
	for taskID := range retry {
		m.pendingTasks[taskID] = struct{}{}
		for _, st := range byTask[taskID] {
			m.pendingSubtasks[st.ID] = st
		}
	}
	m.mu.Unlock()
}

func (m *Manager) flushTask(ctx context.Context, taskID int64, touched []*types.SubTask) error {
	m.mu.Lock()
	counts := m.counters[taskID]
	m.mu.Unlock()

	status, active := deriveTaskStatus(counts)
	lastError := latestError(touched)
	if lastError == "" {
		if task, err := m.store.GetTask(ctx, taskID); err == nil {
			lastError = task.LastError
		}
	}
	return m.store.FlushTaskBatch(ctx, taskID, touched, status, active, lastError)
}

// deriveTaskStatus applies spec.md §3 invariant 2: running beats
// pending beats all-completed beats all-errored, else stopped.
func deriveTaskStatus(counts map[types.SubTaskStatus]int) (types.TaskStatus, int) {
	total := 0
	for _, c := range counts {
		total += c
	}
	active := counts[types.StatusRunning]
	if total == 0 {
		return types.StatusPending, 0
	}
	if active > 0 {
		return types.StatusRunning, active
	}
	if counts[types.StatusPending] > 0 {
		return types.StatusPending, active
	}
	if counts[types.StatusCompleted] == total {
		return types.StatusCompleted, active
	}
	if counts[types.StatusError] == total {
		return types.StatusError, active
	}
	return types.StatusStopped, active
}

func latestError(touched []*types.SubTask) string {
	for i := len(touched) - 1; i >= 0; i-- {
		if touched[i].LastError != "" {
			return touched[i].LastError
		}
	}
	return ""
}
