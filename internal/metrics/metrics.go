// Package metrics holds the process-wide Prometheus collectors. They
// register on the default registry at init and are served by the HTTP
// adapter's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysisDuration times the full analyze pipeline per tenant.
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spendguard_analysis_duration_seconds",
			Help:    "Duration of the analyze pipeline in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tenant", "result"},
	)

	// AnomaliesDetected counts anomalies emitted per tenant and metric.
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_anomalies_detected_total",
			Help: "Anomalies emitted by the detector",
		},
		[]string{"tenant", "metric"},
	)

	// ProbeRuns counts probe invocations by probe and outcome
	// (fired, quiet, inconclusive, error).
	ProbeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_probe_runs_total",
			Help: "Diagnostic probe invocations",
		},
		[]string{"probe", "outcome"},
	)

	// ModelCalls counts model completions by result (ok, error).
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendguard_model_calls_total",
			Help: "Language model completion calls",
		},
		[]string{"result"},
	)

	// ModelCallDuration times model completions.
	ModelCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spendguard_model_call_duration_seconds",
			Help:    "Duration of language model completion calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// ValidatorFailures counts grounded-output validation failures.
	ValidatorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spendguard_validator_failures_total",
			Help: "Model outputs rejected by the grounded output validator",
		},
	)

	// DegradedOutputs counts fall-backs to the deterministic path.
	DegradedOutputs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spendguard_degraded_outputs_total",
			Help: "Outputs served by the rule-based fallback after validation failures",
		},
	)
)

// RegisterSessionGauge exposes the live session count as a gauge backed
// by the manager's counter. Re-registration (a second core in one
// process, as the tests do) is a no-op.
func RegisterSessionGauge(count func() int) {
	g := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "spendguard_active_sessions",
			Help: "Sessions currently pinned in memory",
		},
		func() float64 { return float64(count()) },
	)
	_ = prometheus.Register(g)
}
