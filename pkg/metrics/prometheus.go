// Package metrics provides Prometheus metrics for the invoice risk service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Scoring
	batchesScored  *prometheus.CounterVec
	linesScored    *prometheus.CounterVec
	linesFlagged   *prometheus.CounterVec
	scoringLatency *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
	rowErrors      prometheus.Counter

	// Models
	modelsLoaded prometheus.Gauge
	modelReloads *prometheus.CounterVec

	// Benchmarks
	benchmarkComparisons *prometheus.CounterVec
	rateOutliers         prometheus.Counter
	benchmarkEntries     prometheus.Gauge

	// Jobs
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	jobsEnqueued  prometheus.Counter
	enqueueErrors *prometheus.CounterVec
	jobsProcessed *prometheus.CounterVec
	jobLatency    prometheus.Histogram
	activeWorkers prometheus.Gauge
	duplicateJobs prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "invoicerisk",
		subsystem:        "engine",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		enabled:          true,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.batchesScored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_scored_total"),
		Help:        "Scoring batches by the path that produced the results",
		ConstLabels: m.constLabels,
	}, []string{"method"})

	m.linesScored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("lines_scored_total"),
		Help:        "Line items scored by method",
		ConstLabels: m.constLabels,
	}, []string{"method"})

	m.linesFlagged = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("lines_flagged_total"),
		Help:        "Line items flagged for review by method",
		ConstLabels: m.constLabels,
	}, []string{"method"})

	m.scoringLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("scoring_latency_milliseconds"),
		Help:        "Batch scoring latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"method"})

	m.fallbacks = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("fallbacks_total"),
		Help:        "Batches routed away from the preferred scorer",
		ConstLabels: m.constLabels,
	}, []string{"reason"})

	m.rowErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("row_errors_total"),
		Help:        "Line items replaced by a neutral result after a per-row failure",
		ConstLabels: m.constLabels,
	})

	m.modelsLoaded = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("models_loaded"),
		Help:        "1 when a complete model bundle is active, 0 in fallback mode",
		ConstLabels: m.constLabels,
	})

	m.modelReloads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("model_reloads_total"),
		Help:        "Model bundle load attempts by result",
		ConstLabels: m.constLabels,
	}, []string{"result"})

	m.benchmarkComparisons = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("benchmark_comparisons_total"),
		Help:        "Invoice benchmark comparisons by market position",
		ConstLabels: m.constLabels,
	}, []string{"position"})

	m.rateOutliers = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("rate_outliers_total"),
		Help:        "Line items reported as rate outliers",
		ConstLabels: m.constLabels,
	})

	m.benchmarkEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("benchmark_entries"),
		Help:        "Number of rate benchmark entries currently loaded",
		ConstLabels: m.constLabels,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("job_queue_size"),
		Help:        "Analysis jobs waiting in the queue",
		ConstLabels: m.constLabels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("job_queue_capacity"),
		Help:        "Maximum number of queued analysis jobs",
		ConstLabels: m.constLabels,
	})

	m.jobsEnqueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("jobs_enqueued_total"),
		Help:        "Analysis jobs accepted into the queue",
		ConstLabels: m.constLabels,
	})

	m.enqueueErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("job_enqueue_errors_total"),
		Help:        "Analysis jobs refused by the queue",
		ConstLabels: m.constLabels,
	}, []string{"reason"})

	m.jobsProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("jobs_processed_total"),
		Help:        "Analysis jobs finished by workers, by result",
		ConstLabels: m.constLabels,
	}, []string{"result"})

	m.jobLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("job_latency_milliseconds"),
		Help:        "Time from dequeue to job completion in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})

	m.activeWorkers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("job_workers"),
		Help:        "Number of running job workers",
		ConstLabels: m.constLabels,
	})

	m.duplicateJobs = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("duplicate_jobs_total"),
		Help:        "Job submissions answered from an earlier submission with the same id",
		ConstLabels: m.constLabels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_requests_total"),
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_by_component_total"),
		Help:        "Errors by component and type",
		ConstLabels: m.constLabels,
	}, []string{"component", "error_type"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_by_endpoint_total"),
		Help:        "HTTP errors by endpoint, method and type",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_bytes"),
		Help:        "Heap bytes allocated",
		ConstLabels: m.constLabels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutines"),
		Help:        "Number of goroutines",
		ConstLabels: m.constLabels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_milliseconds"),
		Help:        "Average GC pause in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
		ConstLabels: m.constLabels,
	})
}

// RecordBatchScored counts one scored batch for method.
func RecordBatchScored(method string) {
	if !globalManager.enabled {
		return
	}
	globalManager.batchesScored.WithLabelValues(method).Inc()
}

// RecordLinesScored adds n scored lines for method.
func RecordLinesScored(method string, n int) {
	if !globalManager.enabled || n <= 0 {
		return
	}
	globalManager.linesScored.WithLabelValues(method).Add(float64(n))
}

// RecordLinesFlagged adds n flagged lines for method.
func RecordLinesFlagged(method string, n int) {
	if !globalManager.enabled || n <= 0 {
		return
	}
	globalManager.linesFlagged.WithLabelValues(method).Add(float64(n))
}

// RecordScoringLatency records batch latency in milliseconds.
func RecordScoringLatency(method string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.scoringLatency.WithLabelValues(method).Observe(latencyMs)
}

// RecordFallback counts a batch rerouted for reason.
func RecordFallback(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.fallbacks.WithLabelValues(reason).Inc()
}

// RecordRowError counts one line replaced by the neutral default.
func RecordRowError() {
	if !globalManager.enabled {
		return
	}
	globalManager.rowErrors.Inc()
}

// SetModelsLoaded reports whether a complete bundle is active.
func SetModelsLoaded(loaded bool) {
	if !globalManager.enabled {
		return
	}
	if loaded {
		globalManager.modelsLoaded.Set(1)
		return
	}
	globalManager.modelsLoaded.Set(0)
}

// RecordModelReload counts a bundle load attempt ("success" or "failure").
func RecordModelReload(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.modelReloads.WithLabelValues(result).Inc()
}

// RecordBenchmarkComparison counts a comparison by market position.
func RecordBenchmarkComparison(position string) {
	if !globalManager.enabled {
		return
	}
	globalManager.benchmarkComparisons.WithLabelValues(position).Inc()
}

// RecordOutliers adds n rate outliers.
func RecordOutliers(n int) {
	if !globalManager.enabled || n <= 0 {
		return
	}
	globalManager.rateOutliers.Add(float64(n))
}

// UpdateBenchmarkEntries sets the loaded benchmark entry count.
func UpdateBenchmarkEntries(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.benchmarkEntries.Set(float64(n))
}

// UpdateQueueSize sets the number of queued jobs.
func UpdateQueueSize(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueSize.Set(float64(n))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueCapacity.Set(float64(n))
}

// RecordJobEnqueued counts an accepted job.
func RecordJobEnqueued() {
	if !globalManager.enabled {
		return
	}
	globalManager.jobsEnqueued.Inc()
}

// RecordEnqueueError counts a refused job ("closed", "queue_full", "context_cancelled").
func RecordEnqueueError(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.enqueueErrors.WithLabelValues(reason).Inc()
}

// RecordJobProcessed counts a finished job ("success" or "failure").
func RecordJobProcessed(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.jobsProcessed.WithLabelValues(result).Inc()
}

// RecordJobLatency records job processing time in milliseconds.
func RecordJobLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.jobLatency.Observe(latencyMs)
}

// UpdateActiveWorkers sets the number of running workers.
func UpdateActiveWorkers(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.activeWorkers.Set(float64(n))
}

// RecordDuplicateJob counts a resubmitted job id.
func RecordDuplicateJob() {
	if !globalManager.enabled {
		return
	}
	globalManager.duplicateJobs.Inc()
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error raised in component.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
