// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion runs
	IngestionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_ingestion_runs_total",
			Help: "Ingestion runs by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	IngestionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsparser_ingestion_run_duration_seconds",
			Help:    "Wall time of one ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	IngestionTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_ingestion_triggers_total",
			Help: "Trigger requests by kind and outcome (started, already_running)",
		},
		[]string{"kind", "outcome"},
	)

	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_feed_fetches_total",
			Help: "Feed fetches by outcome",
		},
		[]string{"outcome"},
	)

	Articles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_articles_total",
			Help: "Processed feed entries by outcome (new, duplicate, error)",
		},
		[]string{"outcome"},
	)

	ContentExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_content_extractions_total",
			Help: "Full-text page extractions by outcome (ok, empty, error, rejected)",
		},
		[]string{"outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsparser_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Task registry
	TasksTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsparser_tasks_tracked",
			Help: "Task records currently held in memory",
		},
	)

	TasksEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsparser_tasks_evicted_total",
			Help: "Task records removed by the retention sweep",
		},
	)

	ProgressRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsparser_task_progress_rejected_total",
			Help: "Progress updates dropped because they would decrease progress",
		},
	)

	// Conversation
	ChatStreams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_chat_streams_total",
			Help: "Chat streams by terminal outcome (done, error, canceled)",
		},
		[]string{"outcome"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_chat_tool_calls_total",
			Help: "Search tool invocations requested by the model",
		},
		[]string{"tool"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsparser_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsparser_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
