// Package streammonitor probes the reachability of video streams that
// currently back at least one running task (spec.md §4.9), on a fixed
// interval and through a bounded worker pool.
package streammonitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/metrics"
	"github.com/cuemby/meek/pkg/probe"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

// DefaultInterval is the fixed cycle period when cfg.Interval is unset.
const DefaultInterval = 60 * time.Second

// DefaultWorkerPool bounds how many streams are probed concurrently
// when cfg.WorkerPool is unset.
const DefaultWorkerPool = 5

// Monitor runs the fixed-interval stream reachability cycle.
type Monitor struct {
	store  store.Store
	cfg    config.StreamConfig
	logger zerolog.Logger

	// checkerFor builds the Checker for a stream URL. Always
	// probe.ForURL in production; tests substitute a stub to avoid
	// touching the network.
	checkerFor func(string) probe.Checker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. cfg zero-values fall back to DefaultInterval
// and DefaultWorkerPool.
func New(s store.Store, cfg config.StreamConfig) *Monitor {
	return &Monitor{
		store:      s,
		cfg:        cfg,
		logger:     log.WithComponent("streammonitor"),
		checkerFor: probe.ForURL,
		stopCh:     make(chan struct{}),
	}
}

func (m *Monitor) interval() time.Duration {
	if m.cfg.Interval <= 0 {
		return DefaultInterval
	}
	return m.cfg.Interval
}

func (m *Monitor) workerPool() int {
	if m.cfg.WorkerPool <= 0 {
		return DefaultWorkerPool
	}
	return m.cfg.WorkerPool
}

// Start launches the periodic-probe goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals shutdown and waits for the cycle goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cycle(context.Background())
		}
	}
}

// cycle lists every stream referenced by a running task and probes
// them across a bounded worker pool, updating each stream's online
// state as results come back. Streams not referenced by any running
// task are left untouched: they are simply never listed here.
func (m *Monitor) cycle(ctx context.Context) {
	streams, err := m.store.ListStreamsReferencedByRunningTasks(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("list streams referenced by running tasks")
		return
	}
	if len(streams) == 0 {
		return
	}

	sem := make(chan struct{}, m.workerPool())
	var wg sync.WaitGroup
	for _, stream := range streams {
		stream := stream
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			m.probeOne(ctx, stream)
		}()
	}
	wg.Wait()
}

// probeOne checks a single stream and persists its online state if
// it changed, recording the outcome either way.
func (m *Monitor) probeOne(ctx context.Context, stream *types.Stream) {
	checker := m.checkerFor(stream.URL)
	result := checker.Check(ctx)

	outcome := "offline"
	if result.Online {
		outcome = "online"
	}
	metrics.StreamProbesTotal.WithLabelValues(outcome).Inc()

	if result.Online == stream.Online {
		return
	}
	if err := m.store.UpdateStreamOnline(ctx, stream.ID, result.Online); err != nil {
		m.logger.Error().Err(err).Int64("stream_id", stream.ID).Msg("update stream online state")
		return
	}
	m.logger.Info().Int64("stream_id", stream.ID).Str("url", stream.URL).
		Bool("online", result.Online).Str("message", result.Message).Msg("stream reachability changed")
}
