package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Assignment outcomes.
const (
	OutcomeAssigned          = "assigned"
	OutcomeReused            = "reused"
	OutcomeFallbackCutoff    = "fallback_cutoff"
	OutcomeFallbackExhausted = "fallback_exhausted"
	OutcomeError             = "error"
)

var (
	// AssignDuration tracks the latency of one assignCode call.
	AssignDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "codepool_assign_duration_seconds",
			Help: "Duration of code assignment requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"outcome"},
	)

	// AssignOutcomes counts assignCode calls by outcome.
	AssignOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepool_assign_total",
			Help: "Code assignment requests by outcome",
		},
		[]string{"outcome"},
	)

	// ConsumedEvents counts comment events handled by the Kafka consumer.
	ConsumedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepool_events_consumed_total",
			Help: "Comment events consumed by result",
		},
		[]string{"result"},
	)
)

// RecordAssign records the duration and outcome of an assignment.
func RecordAssign(outcome string, seconds float64) {
	AssignDuration.WithLabelValues(outcome).Observe(seconds)
	AssignOutcomes.WithLabelValues(outcome).Inc()
}
