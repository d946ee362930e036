package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Manage registered live streams",
}

var streamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Streams []struct {
				ID     int64  `json:"ID"`
				URL    string `json:"URL"`
				Name   string `json:"Name"`
				Online bool   `json:"Online"`
			} `json:"streams"`
		}
		if err := clientFromCmd(cmd).do("GET", "/streams", nil, &out); err != nil {
			return err
		}
		for _, st := range out.Streams {
			fmt.Printf("%-4d %-8v %-20s %s\n", st.ID, st.Online, st.Name, st.URL)
		}
		return nil
	},
}

var streamCreateCmd = &cobra.Command{
	Use:   "create URL",
	Short: "Register a stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		var out struct {
			StreamID int64 `json:"stream_id"`
		}
		req := map[string]any{"url": args[0], "name": name}
		if err := clientFromCmd(cmd).do("POST", "/streams", req, &out); err != nil {
			return err
		}
		fmt.Printf("stream created: id=%d\n", out.StreamID)
		return nil
	},
}

var streamDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a registered stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clientFromCmd(cmd).do("DELETE", "/streams/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("stream %s deleted\n", args[0])
		return nil
	},
}

func init() {
	streamCreateCmd.Flags().String("name", "", "human-readable stream name")
	streamCmd.AddCommand(streamListCmd, streamCreateCmd, streamDeleteCmd)
}
