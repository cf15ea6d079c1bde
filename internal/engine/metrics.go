package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency of a whole evaluation, fan-out included
	EvaluationDuration *prometheus.HistogramVec

	// Authorization decisions by outcome and policy reason
	AuthorizationTotal *prometheus.CounterVec

	// Distribution of computed risk scores, per call site
	RiskScore *prometheus.HistogramVec

	// Predictor failures: rate_limit, circuit_open, timeout, no_merchant, failed
	PredictorErrors *prometheus.CounterVec

	// Circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: events waiting in the journal buffer (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// An unregistered local registry keeps callers free of nil checks.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EvaluationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentspend_evaluation_duration_seconds",
			Help:    "Histogram of evaluation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		AuthorizationTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentspend_authorizations_total",
			Help: "Total number of authorization decisions.",
		}, []string{"outcome", "reason"}),

		RiskScore: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentspend_risk_score",
			Help:    "Computed risk scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"stage"}),

		PredictorErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentspend_predictor_errors_total",
			Help: "Total number of predictor failures by type.",
		}, []string{"type"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentspend_circuit_breaker_state",
			Help: "Current state of the predictor circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"predictor"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentspend_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
