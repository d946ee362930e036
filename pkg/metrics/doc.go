/*
Package metrics provides Prometheus metrics collection and exposition for
the meek controller.

The metrics package defines and registers all controller metrics using
the Prometheus client library: node registry state, task/subtask
counts, dispatch outcomes, retry-queue depth, health-tracker migration
counts, batch-writer duration, and stream-probe outcomes. Metrics are
exposed via an HTTP endpoint for scraping.

# Metric Categories

Registry: NodesTotal, NodeSpareCapacity.

Lifecycle: TasksTotal, SubTasksTotal (by status).

Dispatch: DispatchLatency, DispatchResultsTotal (accepted/rejected_or_timeout/sent/publish_error/no_capacity).

Retry queue: RetryQueueDepth, RetryExhaustedTotal.

Health tracker: NodesMigratedTotal, SubtasksMigratedTotal, HealthCycleDuration.

Task state: BatchWriteDuration.

Stream monitor: StreamProbesTotal (online/offline).

Bus: QueueDroppedTotal.

API: APIRequestsTotal, APIRequestDuration.

# Usage

	import "github.com/cuemby/meek/pkg/metrics"

	timer := metrics.NewTimer()
	// ... dispatch a subtask ...
	timer.ObserveDuration(metrics.DispatchLatency)
	metrics.DispatchResultsTotal.WithLabelValues("accepted").Inc()

	http.Handle("/metrics", metrics.Handler())

# Health

RegisterComponent/UpdateComponent track readiness of the bus client,
store, and HTTP API; HealthHandler/ReadyHandler/LivenessHandler expose
them over HTTP for orchestrator probes.

# Collector

Collector polls pkg/store on a 15s interval to republish gauges that
aren't naturally event-driven (node counts, task/subtask counts by
status), so dashboards stay correct even without recent traffic.
*/
package metrics
