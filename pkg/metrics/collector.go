package metrics

import (
	"context"
	"time"

	"github.com/cuemby/meek/pkg/store"
)

// Collector polls the store on an interval and republishes gauges so
// Prometheus always reflects current node/task counts even between
// state-changing events.
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(s store.Store) *Collector {
	return &Collector{
		store:  s,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15s.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectNodeMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nodes, err := c.store.ListNodes(ctx)
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, n := range nodes {
		counts[string(n.Status)]++
		NodeSpareCapacity.WithLabelValues(n.MACAddress).Set(float64(n.SpareCapacity()))
	}
	for status, count := range counts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	taskCounts, err := c.store.CountTasksByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range taskCounts {
		TasksTotal.WithLabelValues(status.String()).Set(float64(count))
	}

	subtaskCounts, err := c.store.CountSubTasksByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range subtaskCounts {
		SubTasksTotal.WithLabelValues(status.String()).Set(float64(count))
	}
}
