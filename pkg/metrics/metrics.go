package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node registry metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meek_nodes_total",
			Help: "Total number of registered nodes by status",
		},
		[]string{"status"},
	)

	NodeSpareCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meek_node_spare_capacity",
			Help: "Spare task capacity per node",
		},
		[]string{"mac"},
	)

	// Task / subtask metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meek_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	SubTasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meek_subtasks_total",
			Help: "Total number of subtasks by status",
		},
		[]string{"status"},
	)

	// Dispatch metrics
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meek_dispatch_latency_seconds",
			Help:    "Time spent in Dispatch, up to the publish (non-blocking) or the node's reply or timeout (blocking), in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meek_dispatch_results_total",
			Help: "Total number of dispatch attempts by outcome",
		},
		[]string{"outcome"}, // accepted | rejected_or_timeout | sent | publish_error | no_capacity
	)

	// Retry queue metrics
	RetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meek_retry_queue_depth",
			Help: "Number of subtasks currently waiting in the retry queue",
		},
	)

	RetryExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meek_retry_exhausted_total",
			Help: "Total number of subtasks that exceeded max retries",
		},
	)

	// Health tracker metrics
	NodesMigratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meek_nodes_migrated_total",
			Help: "Total number of nodes marked offline and migrated",
		},
	)

	SubtasksMigratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meek_subtasks_migrated_total",
			Help: "Total number of subtasks moved during node migration",
		},
	)

	HealthCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meek_health_cycle_duration_seconds",
			Help:    "Time taken for a health-tracker scan cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task state batch writer metrics
	BatchWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meek_batch_write_duration_seconds",
			Help:    "Time taken for the task-state batch SQL writer to flush",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Stream monitor metrics
	StreamProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meek_stream_probes_total",
			Help: "Total number of stream probes by outcome",
		},
		[]string{"outcome"}, // online | offline
	)

	// Bus / queue metrics
	QueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meek_queue_dropped_total",
			Help: "Total number of inbound messages dropped due to full priority queue",
		},
	)

	// HTTP lifecycle API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meek_api_requests_total",
			Help: "Total number of Lifecycle API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meek_api_request_duration_seconds",
			Help:    "Lifecycle API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodeSpareCapacity)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(SubTasksTotal)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(DispatchResultsTotal)
	prometheus.MustRegister(RetryQueueDepth)
	prometheus.MustRegister(RetryExhaustedTotal)
	prometheus.MustRegister(NodesMigratedTotal)
	prometheus.MustRegister(SubtasksMigratedTotal)
	prometheus.MustRegister(HealthCycleDuration)
	prometheus.MustRegister(BatchWriteDuration)
	prometheus.MustRegister(StreamProbesTotal)
	prometheus.MustRegister(QueueDroppedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
