package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskCountersKey(t *testing.T) {
	require.Equal(t, "task:42:counters", TaskCountersKey(42))
}

func TestTaskStatusKey(t *testing.T) {
	require.Equal(t, "task:42:status", TaskStatusKey(42))
}

func TestSubtaskStatusKey(t *testing.T) {
	require.Equal(t, "subtask:7:status", SubtaskStatusKey(7))
}

func TestNodeKey(t *testing.T) {
	require.Equal(t, "node:AA:BB:CC", NodeKey("AA:BB:CC"))
}

func TestDedupKey(t *testing.T) {
	require.Equal(t, "dedup:meek/AA/result:m1", DedupKey("meek/AA/result", "m1"))
}
