package dispatch

import (
	"context"

	"github.com/cuemby/meek/pkg/types"
)

// selectNode scores every eligible online node and returns the
// highest-scoring one (spec.md §4.5 item 1). preferredNodeID, if
// non-zero and eligible, wins outright.
func (d *Dispatcher) selectNode(ctx context.Context, st *types.SubTask, preferredNodeID int64) (*types.Node, error) {
	nodes, err := d.registry.ListOnline(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]*types.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Eligible() {
			eligible = append(eligible, n)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoCapacity
	}

	if preferredNodeID != 0 {
		for _, n := range eligible {
			if n.ID == preferredNodeID {
				return n, nil
			}
		}
	}

	kind := st.Kind.String()
	var best *types.Node
	bestScore := -1.0
	for _, n := range eligible {
		s := score(n, kind, d.cfg.ResourceWeight, d.cfg.BalanceWeight, d.cfg.NodeWeight)
		if s > bestScore {
			bestScore = s
			best = n
		}
	}
	return best, nil
}

// score implements the spec.md §4.5 weighted-scoring formula.
// Missing metrics (zero-valued gauges) count as zero utilization,
// which is the struct zero value already, so no special-casing is
// needed.
func score(n *types.Node, kind string, wr, wb, ww float64) float64 {
	meanUtil := (n.CPUUsage + n.MemoryUsage + n.GPUUsage) / 3
	resourceScore := (1 - meanUtil/100) * wr

	maxTasks := n.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 1
	}
	tasksOfKind := n.TaskCounts[kind]
	balanceScore := (1 - float64(tasksOfKind)/float64(maxTasks)) * wb

	weightScore := n.Weight * ww

	return resourceScore + balanceScore + weightScore
}
