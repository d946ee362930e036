/*
Package log provides structured logging for meek using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all meek packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs (e.g. "dispatch", "health")
  - WithNodeID: Add node id context
  - WithMAC: Add worker MAC address context
  - WithTaskID: Add task id context
  - WithSubTaskID: Add subtask id context

# Usage

	import "github.com/cuemby/meek/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("controller starting")

	dispatchLog := log.WithComponent("dispatch")
	dispatchLog.Info().Int64("task_id", 42).Msg("subtask dispatched")

	log.Logger.Error().
		Err(err).
		Str("mac", mac).
		Msg("node heartbeat missed")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers down into long-running goroutines
  - Avoids repetitive field specification

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers for long-running goroutines
  - Log errors with .Err() for stack traces

Don't:
  - Log secrets (broker credentials, API keys)
  - Use Debug level in production
  - Concatenate strings into log messages
*/
package log
