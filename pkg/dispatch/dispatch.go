// Package dispatch is the subtask dispatcher (spec.md §4.5): scores
// eligible nodes, builds the start-subtask payload, and publishes it
// on `<prefix>/<MAC>/request_setting`, optionally blocking for an
// acceptance reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/bus"
	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/metrics"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

// AcceptRetries is the number of republish attempts in blocking mode
// beyond the first, spec.md §4.5 ("three retries with 1s between").
const AcceptRetries = 3

// AcceptRetryDelay is the pause between blocking-mode republish
// attempts.
const AcceptRetryDelay = time.Second

// ErrNoCapacity is returned when no online, eligible node has spare
// capacity. Callers treat this as a no-capacity condition (spec.md
// §7), not an error: the subtask belongs on the retry queue.
var ErrNoCapacity = errors.New("dispatch: no eligible node with spare capacity")

// ErrRejectedOrTimeout is returned in blocking mode when the node
// explicitly rejected the subtask or no acceptance arrived within the
// retry budget.
var ErrRejectedOrTimeout = errors.New("dispatch: rejected or timed out waiting for acceptance")

// Options control one Dispatch call.
type Options struct {
	// PreferredNodeID, if non-zero and eligible, wins scoring outright
	// (spec.md §4.5 item 1).
	PreferredNodeID int64
	// Blocking requests waiting for an explicit reply or an implicit
	// acceptance (any result message) before returning.
	Blocking bool
}

// Dispatcher selects nodes for pending subtasks and publishes start
// commands.
type Dispatcher struct {
	store       store.Store
	registry    *registry.Registry
	bus         *bus.Client
	taskState   *taskstate.Manager
	cfg         config.DispatchConfig
	topicPrefix string
	logger      zerolog.Logger

	mu           sync.Mutex
	waiters      map[string]chan replyResult // message_uuid -> waiter (blocking dispatch only)
	subtaskUUIDs map[int64]string            // subtask id -> in-flight message_uuid
	inflight     map[string]*types.SubTask   // message_uuid -> subtask awaiting acceptance, for both dispatch modes
}

type replyResult struct {
	accepted        bool
	reason          string
	workerSubtaskID string
}

// New creates a Dispatcher. taskState may be nil, in which case a
// confirmed acceptance writes the running subtask straight to the store
// instead of going through the batched task-state path.
func New(s store.Store, reg *registry.Registry, busClient *bus.Client, taskState *taskstate.Manager, cfg config.DispatchConfig, topicPrefix string) *Dispatcher {
	return &Dispatcher{
		store:        s,
		registry:     reg,
		bus:          busClient,
		taskState:    taskState,
		cfg:          cfg,
		topicPrefix:  topicPrefix,
		logger:       log.WithComponent("dispatch"),
		waiters:      make(map[string]chan replyResult),
		subtaskUUIDs: make(map[int64]string),
		inflight:     make(map[string]*types.SubTask),
	}
}

// Dispatch selects a node for st, publishes the start command, and
// (in blocking mode) waits for acceptance. On success the subtask's
// AssignedNodeID is set to the chosen node and the node's per-kind
// counter is bumped (best-effort).
func (d *Dispatcher) Dispatch(ctx context.Context, st *types.SubTask, opts Options) error {
	timer := metrics.NewTimer()
	node, err := d.selectNode(ctx, st, opts.PreferredNodeID)
	if err != nil {
		metrics.DispatchResultsTotal.WithLabelValues("no_capacity").Inc()
		return err
	}

	model, err := d.store.GetModel(ctx, st.ModelID)
	if err != nil {
		return fmt.Errorf("load model %d: %w", st.ModelID, err)
	}
	task, err := d.store.GetTask(ctx, st.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", st.TaskID, err)
	}

	messageUUID := uuid.NewString()
	payload, err := buildStartPayload(st, model, task.SaveResult, task.SaveImages, task.AnalysisInterval, d.topicPrefix, node.MACAddress, messageUUID)
	if err != nil {
		return fmt.Errorf("build start payload: %w", err)
	}

	d.bumpNodeCounter(ctx, node, st.Kind.String(), 1)
	st.AssignedNodeID = node.ID

	topic := fmt.Sprintf("%s/%s/request_setting", d.topicPrefix, node.MACAddress)

	// Track this subtask as awaiting acceptance regardless of dispatch
	// mode: a non-blocking dispatch still gets confirmed later, either
	// by an explicit device_config_reply (HandleReply) or implicitly by
	// the arrival of any result for the subtask (pkg/ingest). Either
	// path resolves through subtaskUUIDs/inflight to persist the
	// running transition.
	d.mu.Lock()
	d.subtaskUUIDs[st.ID] = messageUUID
	d.inflight[messageUUID] = st
	d.mu.Unlock()
	untrack := func() {
		d.mu.Lock()
		delete(d.subtaskUUIDs, st.ID)
		delete(d.inflight, messageUUID)
		d.mu.Unlock()
	}

	if !opts.Blocking {
		if err := d.bus.Publish(topic, payload, false, d.cfg.AcceptTimeout); err != nil {
			d.bumpNodeCounter(ctx, node, st.Kind.String(), -1)
			untrack()
			metrics.DispatchResultsTotal.WithLabelValues("publish_error").Inc()
			return fmt.Errorf("publish start command: %w", err)
		}
		timer.ObserveDuration(metrics.DispatchLatency)
		metrics.DispatchResultsTotal.WithLabelValues("sent").Inc()
		return nil
	}

	err = d.dispatchBlocking(ctx, topic, payload, messageUUID)
	timer.ObserveDuration(metrics.DispatchLatency)
	untrack()
	if err != nil {
		d.bumpNodeCounter(ctx, node, st.Kind.String(), -1)
		metrics.DispatchResultsTotal.WithLabelValues("rejected_or_timeout").Inc()
		return err
	}
	metrics.DispatchResultsTotal.WithLabelValues("accepted").Inc()
	return nil
}

// StopSubtask publishes a stop-subtask command to st's assigned node,
// fire-and-forget (spec.md §5 cancel_task: "sends stop commands to
// every running subtask's node in parallel"). A no-op if st has no
// assigned node.
func (d *Dispatcher) StopSubtask(ctx context.Context, st *types.SubTask) error {
	if st.AssignedNodeID == 0 {
		return nil
	}
	node, err := d.store.GetNode(ctx, st.AssignedNodeID)
	if err != nil {
		return fmt.Errorf("load node %d: %w", st.AssignedNodeID, err)
	}

	payload, err := buildStopPayload(st, d.topicPrefix, uuid.NewString())
	if err != nil {
		return fmt.Errorf("build stop payload: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/request_setting", d.topicPrefix, node.MACAddress)
	if err := d.bus.Publish(topic, payload, false, d.cfg.AcceptTimeout); err != nil {
		return fmt.Errorf("publish stop command: %w", err)
	}
	return nil
}

func (d *Dispatcher) dispatchBlocking(ctx context.Context, topic string, payload []byte, messageUUID string) error {
	replyCh := make(chan replyResult, 1)
	d.mu.Lock()
	d.waiters[messageUUID] = replyCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.waiters, messageUUID)
		d.mu.Unlock()
	}()

	timeout := d.cfg.AcceptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for attempt := 0; attempt <= AcceptRetries; attempt++ {
		if err := d.bus.Publish(topic, payload, false, timeout); err != nil {
			return fmt.Errorf("publish start command: %w", err)
		}

		select {
		case res := <-replyCh:
			if res.accepted {
				return nil
			}
			d.logger.Warn().Str("reason", res.reason).Msg("node rejected subtask")
			return ErrRejectedOrTimeout
		case <-time.After(timeout):
			// no reply yet, retry
		case <-ctx.Done():
			return ctx.Err()
		}

		if attempt < AcceptRetries {
			time.Sleep(AcceptRetryDelay)
		}
	}
	return ErrRejectedOrTimeout
}

// NotifyAccepted resolves messageUUID as accepted: it wakes a blocking
// Dispatch call if one is waiting, and in all cases (blocking or not)
// persists the subtask as running with workerSubtaskID recorded as its
// opaque worker-side id (spec.md §3 invariant 4). Called from
// HandleReply on an explicit reply, or from NotifyAcceptedForSubtask
// treating any result message as implicit acceptance (spec.md §4.5
// item 5).
func (d *Dispatcher) NotifyAccepted(messageUUID, workerSubtaskID string) {
	d.resolve(messageUUID, replyResult{accepted: true, workerSubtaskID: workerSubtaskID})
}

// NotifyRejected resolves a pending blocking wait for messageUUID as
// rejected with reason. Dispatch modes other than blocking have
// nothing further to do here: the subtask stays pending and is picked
// up again by the retry queue or the next health sweep.
func (d *Dispatcher) NotifyRejected(messageUUID, reason string) {
	d.resolve(messageUUID, replyResult{accepted: false, reason: reason})
}

// NotifyAcceptedForSubtask resolves subtaskID as accepted, looking up
// its in-flight message_uuid. Used by pkg/ingest: the arrival of any
// result message for a subtask counts as implicit acceptance even if
// the worker never sent an explicit ack (spec.md §4.5 item 5).
// workerSubtaskID is the subtask id echoed back in that result message.
// A no-op if this subtask has no in-flight dispatch (e.g. it was
// already accepted, or never dispatched by this controller instance).
func (d *Dispatcher) NotifyAcceptedForSubtask(subtaskID int64, workerSubtaskID string) {
	d.mu.Lock()
	messageUUID, ok := d.subtaskUUIDs[subtaskID]
	d.mu.Unlock()
	if !ok {
		return
	}
	d.NotifyAccepted(messageUUID, workerSubtaskID)
}

// resolve delivers res to messageUUID's blocking waiter if any, and on
// acceptance persists the tracked subtask as running. Safe to call
// more than once for the same messageUUID: after the first call the
// tracking entries are gone, so later calls are no-ops.
func (d *Dispatcher) resolve(messageUUID string, res replyResult) {
	d.mu.Lock()
	ch := d.waiters[messageUUID]
	st := d.inflight[messageUUID]
	delete(d.waiters, messageUUID)
	delete(d.inflight, messageUUID)
	if st != nil {
		delete(d.subtaskUUIDs, st.ID)
	}
	d.mu.Unlock()

	if res.accepted && st != nil {
		d.applyAccepted(st, res.workerSubtaskID)
	}
	if ch != nil {
		select {
		case ch <- res:
		default:
		}
	}
}

// applyAccepted marks st running with node and worker-side id set
// (spec.md §3 invariant 4), via the task state manager when one is
// configured so the change joins the normal batched-write path, or
// directly otherwise.
func (d *Dispatcher) applyAccepted(st *types.SubTask, workerSubtaskID string) {
	if workerSubtaskID == "" {
		workerSubtaskID = strconv.FormatInt(st.ID, 10)
	}
	st.WorkerSubtaskID = workerSubtaskID

	if d.taskState != nil {
		if err := d.taskState.Transition(context.Background(), st, types.StatusRunning, nil, ""); err != nil {
			d.logger.Error().Err(err).Int64("subtask_id", st.ID).Msg("transition subtask to running on acceptance")
		}
		return
	}
	st.Status = types.StatusRunning
	if err := d.store.UpdateSubTask(context.Background(), st); err != nil {
		d.logger.Warn().Err(err).Int64("subtask_id", st.ID).Msg("persist subtask running state")
	}
}

func (d *Dispatcher) bumpNodeCounter(ctx context.Context, n *types.Node, kind string, delta int) {
	if n.TaskCounts == nil {
		n.TaskCounts = make(map[string]int)
	}
	n.TaskCounts[kind] += delta
	if n.TaskCounts[kind] < 0 {
		n.TaskCounts[kind] = 0
	}
	if err := d.store.UpdateNodeHeartbeat(ctx, n.ID, n); err != nil {
		d.logger.Warn().Err(err).Str("mac", n.MACAddress).Msg("failed to bump node counter")
	}
}
