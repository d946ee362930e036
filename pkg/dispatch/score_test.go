package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/types"
)

func TestScoreFavorsIdleNode(t *testing.T) {
	idle := &types.Node{MaxTasks: 4, Weight: 1}
	busy := &types.Node{MaxTasks: 4, Weight: 1, CPUUsage: 90, MemoryUsage: 90, GPUUsage: 90, TaskCounts: map[string]int{"image": 3}}

	require.Greater(t, score(idle, "image", 0.4, 0.4, 0.2), score(busy, "image", 0.4, 0.4, 0.2))
}

func TestScoreMissingMetricsCountAsZeroUtilization(t *testing.T) {
	n := &types.Node{MaxTasks: 2, Weight: 0}
	s := score(n, "image", 0.4, 0.4, 0.2)
	require.InDelta(t, 0.8, s, 0.001) // resourceScore=0.4 (0 util) + balanceScore=0.4 (0 tasks) + weightScore=0
}

func TestScoreHigherWeightWins(t *testing.T) {
	low := &types.Node{MaxTasks: 4, Weight: 0.5}
	high := &types.Node{MaxTasks: 4, Weight: 2.0}
	require.Greater(t, score(high, "image", 0.4, 0.4, 0.2), score(low, "image", 0.4, 0.4, 0.2))
}
