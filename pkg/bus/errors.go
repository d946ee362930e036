package bus

import "errors"

var (
	// ErrNotConnected is returned by Publish when no broker connection
	// is currently established; per spec.md §4.1 this is reported to
	// the caller rather than queued locally.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrPublishTimeout is returned when the broker does not
	// acknowledge a publish within the caller-supplied timeout.
	ErrPublishTimeout = errors.New("bus: publish acknowledgment timed out")
)
