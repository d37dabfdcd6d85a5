package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Database metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rayfield_records_total",
			Help: "Total number of live database records by type code",
		},
		[]string{"type"},
	)

	RecordsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_records_generated_total",
			Help: "Total number of records produced by a type's generator",
		},
		[]string{"type"},
	)

	RecordsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rayfield_records_evicted_total",
			Help: "Total number of flushable records evicted under memory pressure",
		},
	)

	DatabaseMemoryBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rayfield_database_memory_bytes",
			Help: "Current estimated payload bytes held by the database",
		},
	)

	FlushBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rayfield_flush_bytes_total",
			Help: "Total bytes of dirty record payload pushed to peer hosts",
		},
	)

	// Scheduler / job metrics
	JobsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_jobs_scheduled_total",
			Help: "Total number of jobs enqueued, by job type",
		},
		[]string{"job_type"},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_jobs_finished_total",
			Help: "Total number of jobs completed, by job type and result",
		},
		[]string{"job_type", "result"},
	)

	JobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rayfield_job_latency_seconds",
			Help:    "Time from job dequeue to job_finished, by job type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rayfield_workers_active",
			Help: "Number of worker threads/hosts currently able to accept jobs",
		},
	)

	WorkersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rayfield_workers_evicted_total",
			Help: "Total number of workers evicted after a protocol violation or lost connection",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rayfield_queue_depth",
			Help: "Current number of jobs waiting in the job queue",
		},
	)

	// Transport metrics
	TagsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rayfield_tags_allocated_total",
			Help: "Total number of tags minted by the manager",
		},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_messages_sent_total",
			Help: "Total number of wire messages sent, by message type",
		},
		[]string{"message_type"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_messages_received_total",
			Help: "Total number of wire messages received, by message type",
		},
		[]string{"message_type"},
	)

	// Render metrics
	BucketsRendered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rayfield_buckets_rendered_total",
			Help: "Total number of bucket (tile) jobs completed",
		},
	)

	PhotonsDeposited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_photons_deposited_total",
			Help: "Total number of photons deposited into a map, by photon kind",
		},
		[]string{"kind"},
	)

	PhotonsTruncated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rayfield_photons_truncated_total",
			Help: "Total number of photon jobs that hit max_photons before reaching their target count",
		},
		[]string{"kind"},
	)

	RenderProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rayfield_render_progress_ratio",
			Help: "Current render completion ratio in [0,1], as observed by the process's progress tracker",
		},
	)

	// Plugin metrics
	PluginsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rayfield_plugins_loaded",
			Help: "Number of plugin modules currently loaded",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal,
		RecordsGenerated,
		RecordsEvicted,
		DatabaseMemoryBytes,
		FlushBytesTotal,
		JobsScheduled,
		JobsFinished,
		JobLatency,
		WorkersActive,
		WorkersEvicted,
		QueueDepth,
		TagsAllocated,
		MessagesSent,
		MessagesReceived,
		BucketsRendered,
		PhotonsDeposited,
		PhotonsTruncated,
		RenderProgress,
		PluginsLoaded,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing an operation and observing its
// duration into a histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
