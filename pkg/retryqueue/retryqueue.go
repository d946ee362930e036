// Package retryqueue is the task priority/retry queue (spec.md §4.8):
// subtasks that failed to dispatch — no node had spare capacity, or
// the node explicitly rejected / never acknowledged — wait here for
// their next attempt with exponential backoff and priority demotion.
//
// Grounded structurally on cuemby-warren/pkg/events.Broker's
// mutex-guarded background-loop idiom (Start/Stop/run), with the pop
// ordering and retry bookkeeping ported from
// original_source/task_retry_queue.py's RetryTask/TaskRetryQueue
// (heapq-ordered by next-retry-time, priority, then insertion order).
// Go's container/heap plays the role heapq plays there; no ecosystem
// priority-queue library appears anywhere in the pack.
package retryqueue

import (
	"container/heap"
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/cache"
	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

const (
	// DefaultCheckInterval is how often the background loop looks for
	// a ready entry when unconfigured.
	DefaultCheckInterval = time.Second
	// DefaultMirrorEvery is the cache-snapshot period, spec.md §4.8.
	DefaultMirrorEvery = 30 * time.Second
	// DefaultBaseDelay and DefaultBackoffFactor are the exponential
	// backoff defaults, spec.md §4.8.
	DefaultBaseDelay     = 5 * time.Second
	DefaultBackoffFactor = 2.0
	// DefaultMaxRetries is the retry cap before a subtask is marked
	// status=4 with an "exceeded retries" error.
	DefaultMaxRetries = 3

	// MinPriority and MaxPriority bound the 0 (lowest) .. 3 (highest)
	// priority scale, spec.md §4.8.
	MinPriority = 0
	MaxPriority = 3
)

// exceededRetriesError is recorded as the subtask's LastError when it
// is given up on after maxRetries failed dispatch attempts.
const exceededRetriesError = "exceeded retry limit"

// entry is one queued retry attempt.
type entry struct {
	TaskID        int64
	SubTaskID     int64
	Priority      int
	RetryCount    int
	NextRetryTime time.Time
	insertSeq     int64
}

// wireEntry is entry's JSON shape for the cache snapshot.
type wireEntry struct {
	TaskID        int64     `json:"task_id"`
	SubTaskID     int64     `json:"subtask_id"`
	Priority      int       `json:"priority"`
	RetryCount    int       `json:"retry_count"`
	NextRetryTime time.Time `json:"next_retry_time"`
}

// entryHeap implements container/heap.Interface with spec.md §4.8's
// pop order: earliest next-retry-time first, priority-desc as
// tiebreaker, insertion-time as final tiebreaker.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].NextRetryTime.Equal(h[j].NextRetryTime) {
		return h[i].NextRetryTime.Before(h[j].NextRetryTime)
	}
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].insertSeq < h[j].insertSeq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the retry queue: a heap of pending subtask dispatch
// attempts, drained by a background loop that redispatches each entry
// once its next-retry-time arrives.
type Queue struct {
	store      store.Store
	taskState  *taskstate.Manager
	dispatcher *dispatch.Dispatcher
	cache      *cache.Client
	cfg        config.RetryConfig
	logger     zerolog.Logger

	mu         sync.Mutex
	heap       entryHeap
	byID       map[int64]*entry // subtask id -> entry, for dedup/lookup
	nextSeq    int64
	lastMirror time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Queue. cache may be nil, in which case there is no
// restart-recovery snapshot and no periodic mirror.
func New(s store.Store, taskState *taskstate.Manager, dispatcher *dispatch.Dispatcher, redisClient *cache.Client, cfg config.RetryConfig) *Queue {
	return &Queue{
		store:      s,
		taskState:  taskState,
		dispatcher: dispatcher,
		cache:      redisClient,
		cfg:        cfg,
		logger:     log.WithComponent("retryqueue"),
		byID:       make(map[int64]*entry),
		stopCh:     make(chan struct{}),
	}
}

func (q *Queue) baseDelay() time.Duration {
	if q.cfg.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return q.cfg.BaseDelay
}

func (q *Queue) backoffFactor() float64 {
	if q.cfg.BackoffFactor <= 0 {
		return DefaultBackoffFactor
	}
	return q.cfg.BackoffFactor
}

func (q *Queue) maxRetries() int {
	if q.cfg.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return q.cfg.MaxRetries
}

func (q *Queue) mirrorEvery() time.Duration {
	if q.cfg.MirrorEvery <= 0 {
		return DefaultMirrorEvery
	}
	return q.cfg.MirrorEvery
}

// Push enqueues a subtask for an immediate dispatch attempt (next
// tick). If the subtask is already queued, its entry is replaced
// rather than duplicated.
func (q *Queue) Push(taskID, subTaskID int64, priority int) {
	q.pushAt(taskID, subTaskID, clampPriority(priority), 0, time.Now())
}

func (q *Queue) pushAt(taskID, subTaskID int64, priority, retryCount int, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byID[subTaskID]; ok {
		q.removeLocked(existing)
	}

	e := &entry{
		TaskID:        taskID,
		SubTaskID:     subTaskID,
		Priority:      priority,
		RetryCount:    retryCount,
		NextRetryTime: at,
		insertSeq:     q.nextSeq,
	}
	q.nextSeq++
	heap.Push(&q.heap, e)
	q.byID[subTaskID] = e
}

// removeLocked drops e from the heap and index. Caller holds q.mu.
func (q *Queue) removeLocked(e *entry) {
	for i, h := range q.heap {
		if h == e {
			heap.Remove(&q.heap, i)
			break
		}
	}
	delete(q.byID, e.SubTaskID)
}

// Len returns the number of subtasks currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Start launches the background redispatch loop.
func (q *Queue) Start() {
	q.loadSnapshot(context.Background())
	q.wg.Add(1)
	go q.run()
}

// Stop signals shutdown, waits for the loop to exit, and mirrors the
// final queue contents to the cache (spec.md §4.8's "and on graceful
// shutdown").
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
	q.mirror(context.Background())
}

func (q *Queue) run() {
	defer q.wg.Done()
	interval := DefaultCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.tick(context.Background())
		}
	}
}

// tick pops every entry whose next-retry-time has arrived and
// attempts a redispatch for each, then mirrors to the cache if the
// interval has elapsed.
func (q *Queue) tick(ctx context.Context) {
	for {
		e, ok := q.popReady()
		if !ok {
			break
		}
		q.attempt(ctx, e)
	}

	q.mu.Lock()
	due := time.Since(q.lastMirror) >= q.mirrorEvery()
	q.mu.Unlock()
	if due {
		q.mirror(ctx)
	}
}

// popReady pops and returns the top-of-heap entry if its
// next-retry-time has arrived, leaving the heap untouched otherwise.
func (q *Queue) popReady() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	top := q.heap[0]
	if top.NextRetryTime.After(time.Now()) {
		return nil, false
	}
	heap.Pop(&q.heap)
	delete(q.byID, top.SubTaskID)
	return top, true
}

func (q *Queue) attempt(ctx context.Context, e *entry) {
	st, err := q.store.GetSubTask(ctx, e.SubTaskID)
	if err != nil {
		q.logger.Warn().Err(err).Int64("subtask_id", e.SubTaskID).Msg("load subtask for retry")
		return
	}
	if st.Status != types.StatusPending {
		// Already dispatched, stopped, or otherwise resolved by
		// another path (e.g. user cancel) since this entry was queued.
		return
	}

	err = q.dispatcher.Dispatch(ctx, st, dispatch.Options{})
	if err == nil {
		return
	}

	q.logger.Warn().Err(err).Int64("subtask_id", e.SubTaskID).Int("retry_count", e.RetryCount).Msg("dispatch attempt failed, requeuing")

	if e.RetryCount >= q.maxRetries() {
		if q.taskState != nil {
			if err := q.taskState.Transition(ctx, st, types.StatusError, nil, exceededRetriesError); err != nil {
				q.logger.Error().Err(err).Int64("subtask_id", e.SubTaskID).Msg("mark subtask failed after exceeding retries")
			}
		}
		return
	}

	retryCount := e.RetryCount + 1
	delay := time.Duration(float64(q.baseDelay()) * math.Pow(q.backoffFactor(), float64(retryCount)))
	q.pushAt(e.TaskID, e.SubTaskID, clampPriority(e.Priority-1), retryCount, time.Now().Add(delay))
}

func (q *Queue) mirror(ctx context.Context) {
	q.mu.Lock()
	q.lastMirror = time.Now()
	wire := make([]wireEntry, 0, len(q.heap))
	for _, e := range q.heap {
		wire = append(wire, wireEntry{
			TaskID: e.TaskID, SubTaskID: e.SubTaskID, Priority: e.Priority,
			RetryCount: e.RetryCount, NextRetryTime: e.NextRetryTime,
		})
	}
	q.mu.Unlock()

	if q.cache == nil {
		return
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		q.logger.Warn().Err(err).Msg("marshal retry queue snapshot")
		return
	}
	if err := q.cache.Set(ctx, cache.KeyRetryQueueSnapshot, string(raw), 0); err != nil {
		q.logger.Warn().Err(err).Msg("mirror retry queue snapshot")
	}
}

// loadSnapshot recovers the queue contents mirrored before a prior
// shutdown or crash, so in-flight retries survive a controller
// restart (spec.md §4.8).
func (q *Queue) loadSnapshot(ctx context.Context) {
	if q.cache == nil {
		return
	}
	raw, ok, err := q.cache.Get(ctx, cache.KeyRetryQueueSnapshot)
	if err != nil || !ok {
		return
	}
	var wire []wireEntry
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		q.logger.Warn().Err(err).Msg("unmarshal retry queue snapshot")
		return
	}
	for _, w := range wire {
		q.pushAt(w.TaskID, w.SubTaskID, w.Priority, w.RetryCount, w.NextRetryTime)
	}
	if len(wire) > 0 {
		q.logger.Info().Int("count", len(wire)).Msg("recovered retry queue from cache snapshot")
	}
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

