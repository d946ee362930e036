// Package ingest is the result ingester (spec.md §4.7): it consumes
// the per-node result topic, updates subtask status via the task
// state manager, optionally persists the results blob, releases the
// node's per-kind capacity slot, and notifies the dispatcher of
// implicit acceptance.
//
// Grounded on pkg/router's handler-dispatch shape: Ingester exposes a
// router.Handler-compatible method rather than owning a subscription
// itself, the same separation pkg/dispatch's HandleReply uses.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
	"github.com/cuemby/meek/pkg/types"
)

// resultMessage is the wire shape of `<prefix>/<MAC>/result` (spec.md
// §6). task_id and subtask_id travel as strings because the worker
// echoes back exactly the values it was given in the start-command
// payload, which itself encodes them as strings.
type resultMessage struct {
	TaskID       string          `json:"task_id"`
	SubtaskID    string          `json:"subtask_id"`
	Status       string          `json:"status"` // processing | completed | failed
	StatusCode   int             `json:"status_code"`
	Results      json.RawMessage `json:"results"`
	ErrorMessage string          `json:"error_message"`
	FrameCount   *int            `json:"frame_count"`
	Timestamp    int64           `json:"timestamp"`
	// MACAddress is only ever populated on the HTTP callback path
	// (SPEC_FULL.md §6.1 POST /callback): there is no topic to extract
	// it from there, so the worker includes it in the body instead.
	MACAddress string `json:"mac_address"`
}

// Ingester handles result messages.
type Ingester struct {
	store       store.Store
	taskState   *taskstate.Manager
	dispatcher  *dispatch.Dispatcher
	topicPrefix string
	logger      zerolog.Logger
}

// New builds an Ingester. dispatcher may be nil in tests that don't
// exercise the implicit-acceptance notification.
func New(s store.Store, taskState *taskstate.Manager, dispatcher *dispatch.Dispatcher, topicPrefix string) *Ingester {
	return &Ingester{
		store:       s,
		taskState:   taskState,
		dispatcher:  dispatcher,
		topicPrefix: topicPrefix,
		logger:      log.WithComponent("ingest"),
	}
}

// HandleResult processes one message on `<prefix>/<MAC>/result`. It is
// registered with pkg/router via HandleWildcard; router-level dedup
// (spec.md §4.2, 5-minute default window per (topic, message_id)) runs before this
// is ever called, so repeated deliveries of the same result are
// already filtered out.
func (i *Ingester) HandleResult(topic string, payload []byte) {
	var msg resultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		i.logger.Warn().Err(err).Str("topic", topic).Msg("malformed result payload")
		return
	}
	msg.MACAddress = macFromTopic(topic)
	i.process(context.Background(), msg)
}

// HandleCallback processes the HTTP equivalent of HandleResult (POST
// /callback, SPEC_FULL.md §6.1): same payload shape, but since there's
// no topic to read the node's MAC address from, the worker includes
// it directly in the body as mac_address. Returns an error only for a
// malformed payload; every other failure is logged and swallowed, same
// as the MQTT path, so a misbehaving callback never 500s the caller.
func (i *Ingester) HandleCallback(payload []byte) error {
	var msg resultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("malformed callback payload: %w", err)
	}
	i.process(context.Background(), msg)
	return nil
}

// process applies one result message regardless of transport.
func (i *Ingester) process(ctx context.Context, msg resultMessage) {
	subtaskID, err := strconv.ParseInt(msg.SubtaskID, 10, 64)
	if err != nil {
		i.logger.Warn().Err(err).Str("subtask_id", msg.SubtaskID).Msg("result message has non-numeric subtask_id")
		return
	}

	if i.dispatcher != nil {
		i.dispatcher.NotifyAcceptedForSubtask(subtaskID, msg.SubtaskID)
	}

	if msg.Status == "processing" {
		// An interim progress report. Acceptance has already been
		// signalled above; there is no terminal status to apply yet.
		return
	}

	st, err := i.store.GetSubTask(ctx, subtaskID)
	if err != nil {
		i.logger.Warn().Err(err).Int64("subtask_id", subtaskID).Msg("result for unknown subtask")
		return
	}

	task, err := i.store.GetTask(ctx, st.TaskID)
	if err != nil {
		i.logger.Warn().Err(err).Int64("task_id", st.TaskID).Msg("load parent task for result")
		return
	}

	var newStatus types.SubTaskStatus
	var lastError string
	switch msg.Status {
	case "completed":
		newStatus = types.StatusCompleted
	case "failed":
		newStatus = types.StatusError
		lastError = msg.ErrorMessage
	default:
		i.logger.Warn().Str("status", msg.Status).Int64("subtask_id", subtaskID).Msg("result message has unrecognized status")
		return
	}

	now := time.Now()
	if task.SaveResult && len(msg.Results) > 0 {
		frameCount := 0
		if msg.FrameCount != nil {
			frameCount = *msg.FrameCount
		}
		if err := i.store.SaveSubTaskResult(ctx, subtaskID, string(msg.Results), frameCount); err != nil {
			i.logger.Warn().Err(err).Int64("subtask_id", subtaskID).Msg("persist subtask result")
		}
	}

	if i.taskState != nil {
		if err := i.taskState.Transition(ctx, st, newStatus, &now, lastError); err != nil {
			i.logger.Error().Err(err).Int64("subtask_id", subtaskID).Msg("apply result transition")
			return
		}
	}

	i.releaseNodeSlotByMAC(ctx, msg.MACAddress, st)
}

// releaseNodeSlotByMAC decrements the node's per-kind counter now that
// the subtask is no longer running, mirroring pkg/dispatch's
// bumpNodeCounter in reverse. The node is identified by MAC address
// (read from the topic on the MQTT path, from the body on the HTTP
// callback path) rather than st.AssignedNodeID so a result racing a
// migration still releases the node it actually ran on.
func (i *Ingester) releaseNodeSlotByMAC(ctx context.Context, mac string, st *types.SubTask) {
	if mac == "" {
		return
	}
	n, err := i.store.GetNodeByMAC(ctx, mac)
	if err != nil {
		i.logger.Warn().Err(err).Str("mac", mac).Msg("load node to release capacity")
		return
	}
	if n.TaskCounts == nil {
		n.TaskCounts = make(map[string]int)
	}
	n.TaskCounts[st.Kind.String()]--
	if n.TaskCounts[st.Kind.String()] < 0 {
		n.TaskCounts[st.Kind.String()] = 0
	}
	if err := i.store.UpdateNodeHeartbeat(ctx, n.ID, n); err != nil {
		i.logger.Warn().Err(err).Str("mac", mac).Msg("release node capacity")
	}
}

// macFromTopic extracts the MAC segment from `<prefix>/<MAC>/result`.
func macFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}
