package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and drive analysis tasks against a running controller",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an analysis task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analysisType, _ := cmd.Flags().GetString("type")
		modelIDs, _ := cmd.Flags().GetInt64Slice("model")
		streamIDs, _ := cmd.Flags().GetInt64Slice("stream")
		imageURLs, _ := cmd.Flags().GetStringSlice("image-url")
		videoURLs, _ := cmd.Flags().GetStringSlice("video-url")
		saveResult, _ := cmd.Flags().GetBool("save-result")
		saveImages, _ := cmd.Flags().GetBool("save-images")
		interval, _ := cmd.Flags().GetInt("interval")

		wireType, err := analysisTypeWireValue(analysisType)
		if err != nil {
			return err
		}

		req := map[string]any{
			"name":              args[0],
			"analysis_type":     wireType,
			"model_ids":         modelIDs,
			"stream_ids":        streamIDs,
			"image_urls":        imageURLs,
			"video_urls":        videoURLs,
			"save_result":       saveResult,
			"save_images":       saveImages,
			"analysis_interval": interval,
		}

		var out struct {
			TaskID int64 `json:"task_id"`
		}
		if err := clientFromCmd(cmd).do("POST", "/tasks/create", req, &out); err != nil {
			return err
		}
		fmt.Printf("task created: id=%d\n", out.TaskID)
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().String("type", "image", "analysis kind: image, video, or stream")
	taskCreateCmd.Flags().Int64Slice("model", nil, "model IDs to run (repeatable)")
	taskCreateCmd.Flags().Int64Slice("stream", nil, "stream IDs to analyze (repeatable, stream tasks only)")
	taskCreateCmd.Flags().StringSlice("image-url", nil, "image URLs to analyze (image tasks only)")
	taskCreateCmd.Flags().StringSlice("video-url", nil, "video URLs to analyze (video tasks only)")
	taskCreateCmd.Flags().Bool("save-result", false, "persist subtask results")
	taskCreateCmd.Flags().Bool("save-images", false, "persist analyzed frames")
	taskCreateCmd.Flags().Int("interval", 0, "analysis interval in seconds (stream tasks only)")

	taskCmd.AddCommand(taskCreateCmd, taskStartCmd, taskStopCmd, taskDeleteCmd, taskStatusCmd)
}

// analysisTypeWireValue maps the --type flag to the 1-indexed
// analysis_type wire value the controller expects (1 image, 2 video,
// 3 stream).
func analysisTypeWireValue(s string) (int, error) {
	switch s {
	case "image":
		return 1, nil
	case "video":
		return 2, nil
	case "stream":
		return 3, nil
	default:
		return 0, fmt.Errorf("invalid analysis type %q: must be image, video, or stream", s)
	}
}

func taskIDFromArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q: %w", arg, err)
	}
	return id, nil
}

var taskStartCmd = &cobra.Command{
	Use:   "start TASK_ID",
	Short: "Dispatch a task's pending subtasks to worker nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := taskIDFromArg(args[0])
		if err != nil {
			return err
		}
		if err := clientFromCmd(cmd).do("POST", "/tasks/start", map[string]any{"task_id": id}, nil); err != nil {
			return err
		}
		fmt.Printf("task %d started\n", id)
		return nil
	},
}

var taskStopCmd = &cobra.Command{
	Use:   "stop TASK_ID",
	Short: "Stop a task's running and pending subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := taskIDFromArg(args[0])
		if err != nil {
			return err
		}
		if err := clientFromCmd(cmd).do("POST", "/tasks/stop", map[string]any{"task_id": id}, nil); err != nil {
			return err
		}
		fmt.Printf("task %d stopped\n", id)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete TASK_ID",
	Short: "Delete a task that is not currently running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := taskIDFromArg(args[0])
		if err != nil {
			return err
		}
		if err := clientFromCmd(cmd).do("POST", "/tasks/delete", map[string]any{"task_id": id}, nil); err != nil {
			return err
		}
		fmt.Printf("task %d deleted\n", id)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status TASK_ID",
	Short: "Show a task's live status and subtask counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := taskIDFromArg(args[0])
		if err != nil {
			return err
		}
		var out struct {
			Status   int            `json:"status"`
			Active   int            `json:"active"`
			Total    int            `json:"total"`
			Counters map[string]int `json:"counters"`
		}
		if err := clientFromCmd(cmd).do("POST", "/tasks/status", map[string]any{"task_id": id}, &out); err != nil {
			return err
		}
		fmt.Printf("task %d: status=%d active=%d total=%d counters=%v\n", id, out.Status, out.Active, out.Total, out.Counters)
		return nil
	},
}
