package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/meek/pkg/types"
)

// startPayload is the wire shape of a `<prefix>/<MAC>/request_setting`
// message for cmd_type "start_task" (spec.md §6).
type startPayload struct {
	ConfirmationTopic string    `json:"confirmation_topic"`
	MessageID         string    `json:"message_id"`
	MessageUUID       string    `json:"message_uuid"`
	RequestType       string    `json:"request_type"`
	Data              startData `json:"data"`
}

type startData struct {
	CmdType      string     `json:"cmd_type"`
	TaskID       int64      `json:"task_id"`
	SubtaskID    string     `json:"subtask_id"`
	Source       sourceWire `json:"source"`
	Config       configWire `json:"config"`
	ResultConfig resultWire `json:"result_config"`
}

type sourceWire struct {
	Kind string   `json:"kind"`
	URLs []string `json:"urls,omitempty"`
}

type configWire struct {
	ModelCode      string `json:"model_code"`
	AnalysisDetail string `json:"analysis_detail"`
	Interval       int    `json:"interval"`
	UserConfig     string `json:"user_config"`
}

type resultWire struct {
	SaveResult    bool   `json:"save_result"`
	SaveImages    bool   `json:"save_images"`
	CallbackTopic string `json:"callback_topic"`
}

func sourceKindWire(k types.SourceKind) string {
	switch k {
	case types.SourceImageBatch:
		return "image_batch"
	case types.SourceVideoBatch:
		return "video_batch"
	case types.SourceLiveStream:
		return "live_stream"
	default:
		return "unknown"
	}
}

// buildStartPayload builds the JSON body for a start-subtask command
// (spec.md §4.5 item 3). saveResult/saveImages/interval come from the
// parent task, which this package does not otherwise need to look up.
func buildStartPayload(st *types.SubTask, model *types.Model, saveResult, saveImages bool, interval int, topicPrefix, mac, messageUUID string) ([]byte, error) {
	p := startPayload{
		ConfirmationTopic: fmt.Sprintf("%s/device_config_reply", topicPrefix),
		MessageID:         uuid.NewString(),
		MessageUUID:       messageUUID,
		RequestType:       "task_cmd",
		Data: startData{
			CmdType:   "start_task",
			TaskID:    st.TaskID,
			SubtaskID: strconv.FormatInt(st.ID, 10),
			Source: sourceWire{
				Kind: sourceKindWire(st.Source.Kind),
				URLs: st.Source.URLs,
			},
			Config: configWire{
				ModelCode:      model.Code,
				AnalysisDetail: st.AnalysisDetail,
				Interval:       interval,
				UserConfig:     st.ConfigBlob,
			},
			ResultConfig: resultWire{
				SaveResult:    saveResult,
				SaveImages:    saveImages,
				CallbackTopic: fmt.Sprintf("%s/%s/result", topicPrefix, mac),
			},
		},
	}
	return json.Marshal(p)
}

// stopData is the wire shape of a cmd_type "stop_task" command
// (spec.md §6, §5 cancel_task).
type stopData struct {
	CmdType   string `json:"cmd_type"`
	TaskID    int64  `json:"task_id"`
	SubtaskID string `json:"subtask_id"`
}

type stopPayload struct {
	ConfirmationTopic string   `json:"confirmation_topic"`
	MessageID         string   `json:"message_id"`
	MessageUUID       string   `json:"message_uuid"`
	RequestType       string   `json:"request_type"`
	Data              stopData `json:"data"`
}

// buildStopPayload builds the JSON body for a stop-subtask command,
// published fire-and-forget to the subtask's assigned node (spec.md §5
// cancel_task: "sends stop commands to every running subtask's node in
// parallel").
func buildStopPayload(st *types.SubTask, topicPrefix, messageUUID string) ([]byte, error) {
	p := stopPayload{
		ConfirmationTopic: fmt.Sprintf("%s/device_config_reply", topicPrefix),
		MessageID:         uuid.NewString(),
		MessageUUID:       messageUUID,
		RequestType:       "task_cmd",
		Data: stopData{
			CmdType:   "stop_task",
			TaskID:    st.TaskID,
			SubtaskID: strconv.FormatInt(st.ID, 10),
		},
	}
	return json.Marshal(p)
}
