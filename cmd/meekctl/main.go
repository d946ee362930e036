// Command meekctl is the controller binary and CLI client for meek, the
// distributed video-analysis control plane (SPEC_FULL.md). `meekctl serve`
// runs the controller; the remaining subcommands are a thin HTTP client
// against its Lifecycle API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/meek/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meekctl",
	Short: "meekctl runs and drives the meek video-analysis controller",
	Long: `meekctl is the controller binary for meek, a control plane that
fans analysis tasks out to worker nodes over MQTT and tracks their
lifecycle over a synchronous HTTP API.

Run "meekctl serve" to start the controller. The task/node/stream/model
subcommands are a thin client against a running controller's Lifecycle
API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("meekctl version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON")
	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "Lifecycle API base URL (for client subcommands)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for protected Lifecycle API routes (model sync)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(modelCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}
