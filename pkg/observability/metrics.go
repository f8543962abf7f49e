// Package observability exposes the Prometheus metrics for the question
// pipeline. Metrics register at package init; the /metrics endpoint serves
// them via promhttp.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mesa_questions_total",
			Help: "Total number of natural-language questions received.",
		},
	)
	plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesa_plans_total",
			Help: "Total number of query plans by validation outcome.",
		},
		[]string{"outcome"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesa_validation_rejections_total",
			Help: "Total number of plans rejected by the safety validator, by rule.",
		},
		[]string{"rule"},
	)
	generatorDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mesa_generator_duration_seconds",
			Help:    "Wall time of one generator call, including retries inside the provider client.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mesa_execution_duration_seconds",
			Help:    "Wall time of one validated query execution against a tenant data source.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		plansTotal,
		validationRejectionsTotal,
		generatorDurationSeconds,
		executionDurationSeconds,
	)
}

// IncQuestions counts one incoming question.
func IncQuestions() {
	questionsTotal.Inc()
}

// ObservePlan counts one plan by its validation outcome ("accepted",
// "rejected", "planning_error").
func ObservePlan(outcome string) {
	plansTotal.WithLabelValues(outcome).Inc()
}

// ObserveValidationRejection counts one rejection under the safety rule that
// fired.
func ObserveValidationRejection(rule string) {
	validationRejectionsTotal.WithLabelValues(rule).Inc()
}

// ObserveGeneratorDuration records the wall time of a generator call.
func ObserveGeneratorDuration(elapsed time.Duration) {
	generatorDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveExecutionDuration records the wall time of a tenant query.
func ObserveExecutionDuration(elapsed time.Duration) {
	executionDurationSeconds.Observe(elapsed.Seconds())
}
