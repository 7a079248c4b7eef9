package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trickplay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Generation Metrics
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_generations_total",
			Help: "Artifact generation attempts by outcome",
		},
		[]string{"source", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trickplay_generation_stage_duration_seconds",
			Help:    "Duration of each generation stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms to ~45min
		},
		[]string{"stage"},
	)

	FramesExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trickplay_frames_per_artifact",
			Help:    "Number of frames packed into each artifact",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	ArtifactSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trickplay_artifact_size_bytes",
			Help:    "Size of written artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 14), // 16KB to 128MB
		},
	)

	SkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_skipped_total",
			Help: "Items or sources skipped without generation",
		},
		[]string{"reason"},
	)

	// Permit Metrics
	PermitWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trickplay_permit_wait_seconds",
			Help:    "Time spent waiting for the single-writer permit",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		},
	)

	PermitsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trickplay_permits_in_use",
			Help: "Writer permits currently held",
		},
	)

	// On-demand Metrics
	OnDemandRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_ondemand_requests_total",
			Help: "Artifact fetches by availability",
		},
		[]string{"status"},
	)

	OnDemandQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trickplay_ondemand_queue_depth",
			Help: "On-demand requests waiting for a worker",
		},
	)

	// Batch Metrics
	BatchProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trickplay_batch_progress_percent",
			Help: "Progress of the current batch run",
		},
	)

	BatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_batch_runs_total",
			Help: "Batch runs by final state",
		},
		[]string{"state"},
	)

	// Queue Metrics
	QueueMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trickplay_queue_messages",
			Help: "Messages waiting in the generation and dead-letter queues",
		},
		[]string{"queue"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickplay_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordGeneration records the outcome of one artifact generation
func RecordGeneration(source, status string) {
	GenerationsTotal.WithLabelValues(source, status).Inc()
}

// RecordStage records the duration of one generation stage
func RecordStage(stage string, seconds float64) {
	GenerationDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordArtifact records the shape of a written artifact
func RecordArtifact(frames int, sizeBytes int64) {
	FramesExtracted.Observe(float64(frames))
	ArtifactSizeBytes.Observe(float64(sizeBytes))
}

// RecordSkip records a skipped item or source
func RecordSkip(reason string) {
	SkippedTotal.WithLabelValues(reason).Inc()
}

// RecordPermitAcquired records permit wait time and marks it held
func RecordPermitAcquired(waitSeconds float64) {
	PermitWaitDuration.Observe(waitSeconds)
	PermitsInUse.Inc()
}

// RecordPermitReleased marks a permit released
func RecordPermitReleased() {
	PermitsInUse.Dec()
}

// RecordOnDemand records an artifact fetch outcome
func RecordOnDemand(status string) {
	OnDemandRequestsTotal.WithLabelValues(status).Inc()
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordQueueDepth records the number of waiting messages of a queue
func RecordQueueDepth(queue string, messages int) {
	QueueMessages.WithLabelValues(queue).Set(float64(messages))
}
