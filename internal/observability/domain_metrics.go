package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal status.",
		},
		[]string{"status"},
	)
	pipelineAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nl2sql_pipeline_attempts",
			Help:    "Generation attempts consumed per pipeline run.",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)
	answerCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_answer_cache_hits_total",
			Help: "Total number of answer cache hits.",
		},
	)
	answerCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_answer_cache_misses_total",
			Help: "Total number of answer cache misses.",
		},
	)
	validationRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_validation_rejects_total",
			Help: "Total number of candidate queries rejected by the validator, by reason.",
		},
		[]string{"reason"},
	)
	generationLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nl2sql_generation_latency_seconds",
			Help:    "Latency of text-generation calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
	executionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nl2sql_execution_latency_seconds",
			Help:    "Latency of validated query execution.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	schemaRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_schema_refreshes_total",
			Help: "Total number of schema snapshot refreshes.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineAttempts,
		answerCacheHitsTotal,
		answerCacheMissesTotal,
		validationRejectsTotal,
		generationLatencySeconds,
		executionLatencySeconds,
		schemaRefreshesTotal,
	)
}

func ObservePipelineRun(status string, attempts int) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		pipelineAttempts.Observe(float64(attempts))
	}
}

func ObserveAnswerCache(hit bool) {
	if hit {
		answerCacheHitsTotal.Inc()
		return
	}
	answerCacheMissesTotal.Inc()
}

func ObserveValidationReject(reason string) {
	validationRejectsTotal.WithLabelValues(reason).Inc()
}

func ObserveGenerationLatency(elapsed time.Duration) {
	generationLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveExecutionLatency(elapsed time.Duration) {
	executionLatencySeconds.Observe(elapsed.Seconds())
}

func IncrementSchemaRefresh() {
	schemaRefreshesTotal.Inc()
}
