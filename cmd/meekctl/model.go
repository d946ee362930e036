package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Trigger and inspect model-marketplace sync",
}

var modelSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger an on-demand model-marketplace sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clientFromCmd(cmd).do("POST", "/models/sync", nil, nil); err != nil {
			return err
		}
		fmt.Println("model sync triggered")
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelSyncCmd)
}
