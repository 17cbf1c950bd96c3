package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famledger_ask_requests_total",
			Help: "Total number of natural-language query requests by role.",
		},
		[]string{"role"},
	)
	validationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famledger_validation_outcomes_total",
			Help: "Safety validator outcomes by result and failed check.",
		},
		[]string{"outcome", "check"},
	)
	synthesisLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "famledger_synthesis_latency_seconds",
			Help:    "Language-model synthesis latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"status"},
	)
	queryExecutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "famledger_query_execution_seconds",
			Help:    "Read-only ledger query execution latency.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
	compositionFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "famledger_composition_fallback_total",
			Help: "Answers rendered by the templated fallback instead of the model.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		askRequestsTotal,
		validationOutcomesTotal,
		synthesisLatencySeconds,
		queryExecutionSeconds,
		compositionFallbackTotal,
	)
}

func ObserveAskRequest(role string) {
	askRequestsTotal.WithLabelValues(role).Inc()
}

func ObserveValidation(outcome, check string) {
	if check == "" {
		check = "none"
	}
	validationOutcomesTotal.WithLabelValues(outcome, check).Inc()
}

func ObserveSynthesisLatency(elapsed time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	synthesisLatencySeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func ObserveQueryExecution(elapsed time.Duration) {
	queryExecutionSeconds.Observe(elapsed.Seconds())
}

func IncrementCompositionFallback() {
	compositionFallbackTotal.Inc()
}
