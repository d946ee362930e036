package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect registered worker nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every node the controller has seen",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Nodes []struct {
				MACAddress string         `json:"MACAddress"`
				Hostname   string         `json:"Hostname"`
				Status     string         `json:"Status"`
				TaskCounts map[string]int `json:"TaskCounts"`
				MaxTasks   int            `json:"MaxTasks"`
			} `json:"nodes"`
		}
		if err := clientFromCmd(cmd).do("GET", "/nodes", nil, &out); err != nil {
			return err
		}
		for _, n := range out.Nodes {
			running := 0
			for _, c := range n.TaskCounts {
				running += c
			}
			fmt.Printf("%-20s %-17s %-8s tasks=%d/%d\n", n.Hostname, n.MACAddress, n.Status, running, n.MaxTasks)
		}
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
}
