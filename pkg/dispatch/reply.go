package dispatch

import (
	"encoding/json"
	"fmt"
)

// replyMessage is the wire shape of `<prefix>/device_config_reply`
// (spec.md §6).
type replyMessage struct {
	MessageUUID  string `json:"message_uuid"`
	ResponseType string `json:"response_type"`
	Status       string `json:"status"` // "success" | "error"
	MACAddress   string `json:"mac_address"`
	Data         struct {
		CmdType   string `json:"cmd_type"`
		TaskID    string `json:"task_id"`
		SubtaskID string `json:"subtask_id"`
		Message   string `json:"message"`
		ErrorCode string `json:"error_code"`
		ErrorType string `json:"error_type"`
	} `json:"data"`
}

// HandleReply processes a `<prefix>/device_config_reply` message,
// resolving any pending blocking Dispatch call awaiting this
// message_uuid. Meant to be registered with pkg/router.
func (d *Dispatcher) HandleReply(topic string, payload []byte) {
	var msg replyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Warn().Err(err).Msg("failed to decode device_config_reply")
		return
	}
	if msg.MessageUUID == "" {
		return
	}

	switch msg.Status {
	case "success":
		d.NotifyAccepted(msg.MessageUUID, msg.Data.SubtaskID)
	case "error":
		reason := fmt.Sprintf("%s: %s", msg.Data.ErrorCode, msg.Data.Message)
		d.NotifyRejected(msg.MessageUUID, reason)
	default:
		d.logger.Warn().Str("status", msg.Status).Msg("unknown device_config_reply status")
	}
}
