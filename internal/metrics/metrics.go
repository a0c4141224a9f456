package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamdigest_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_events_ingested_total",
			Help: "Total number of inbound events by outcome",
		},
		[]string{"status"},
	)

	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_events_routed_total",
			Help: "Total number of events routed per lane",
		},
		[]string{"lane"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teamdigest_queue_depth",
			Help: "Current number of queued events per lane",
		},
		[]string{"lane"},
	)

	// Pipeline metrics
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_events_processed_total",
			Help: "Total number of events fully processed per lane",
		},
		[]string{"lane"},
	)

	PipelineErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamdigest_pipeline_errors_total",
			Help: "Total number of events dropped by processing errors",
		},
	)

	ThreadsEnriched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamdigest_threads_enriched_total",
			Help: "Total number of thread enrichment passes",
		},
	)

	EmbeddingsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_embeddings_computed_total",
			Help: "Total number of embeddings computed per owner type",
		},
		[]string{"owner_type"},
	)

	// Retrieval metrics
	DigestsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_digests_built_total",
			Help: "Total number of digests built",
		},
		[]string{"status"},
	)

	DigestBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teamdigest_digest_build_duration_seconds",
			Help:    "Duration of digest builds in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetrievalCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teamdigest_retrieval_candidates",
			Help:    "Number of candidate items per retrieval",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	// Feedback metrics
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdigest_feedback_events_total",
			Help: "Total number of feedback events by action",
		},
		[]string{"action"},
	)
)
