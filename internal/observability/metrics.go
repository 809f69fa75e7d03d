package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragsql_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)
	httpInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragsql_http_in_flight_requests",
			Help: "HTTP requests currently being served.",
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragsql_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	askTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_ask_total",
			Help: "Total number of ask requests by outcome.",
		},
		[]string{"outcome"},
	)
	safetyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_safety_rejections_total",
			Help: "Total number of generated statements rejected by the safety gate.",
		},
		[]string{"reason"},
	)
	ingestedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragsql_ingested_chunks_total",
			Help: "Total number of schema chunks embedded and stored.",
		},
	)
	generationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_generation_retries_total",
			Help: "Total number of LLM generation retries after transient failures.",
		},
		[]string{"provider"},
	)
	vectorIndexBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragsql_vector_index_builds_total",
			Help: "Vector index build attempts by index type and result.",
		},
		[]string{"index", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpInFlightRequests,
		stageDurationSeconds,
		askTotal,
		safetyRejectionsTotal,
		ingestedChunksTotal,
		generationRetriesTotal,
		vectorIndexBuildsTotal,
	)
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveAsk records the terminal outcome of one ask request.
func ObserveAsk(outcome string) {
	askTotal.WithLabelValues(outcome).Inc()
}

func IncrementSafetyRejection(reason string) {
	safetyRejectionsTotal.WithLabelValues(reason).Inc()
}

func AddIngestedChunks(n int) {
	if n > 0 {
		ingestedChunksTotal.Add(float64(n))
	}
}

func IncrementGenerationRetry(provider string) {
	generationRetriesTotal.WithLabelValues(provider).Inc()
}

func ObserveIndexBuild(index, result string) {
	vectorIndexBuildsTotal.WithLabelValues(index, result).Inc()
}
