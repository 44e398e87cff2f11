package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jobpilot"

var (
	jobsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_ingested_total",
			Help:      "Job ingest attempts by origin and result (created or duplicate).",
		},
		[]string{"origin", "result"},
	)

	jobsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_scored_total",
			Help:      "Jobs scored, split by whether a hard filter rejected them.",
		},
		[]string{"filtered"},
	)

	generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Calls to the generation capability by kind and result.",
		},
		[]string{"kind", "result"},
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of generation capability calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"kind"},
	)

	assistantOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_outcomes_total",
			Help:      "Terminal outcomes of assistant apply runs.",
		},
		[]string{"outcome"},
	)
)

func JobIngested(origin string, duplicate bool) {
	result := "created"
	if duplicate {
		result = "duplicate"
	}
	jobsIngested.WithLabelValues(origin, result).Inc()
}

func JobScored(filtered bool) {
	label := "false"
	if filtered {
		label = "true"
	}
	jobsScored.WithLabelValues(label).Inc()
}

func Generation(kind string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	generations.WithLabelValues(kind, result).Inc()
	generationDuration.WithLabelValues(kind).Observe(seconds)
}

func AssistantOutcome(outcome string) {
	assistantOutcomes.WithLabelValues(outcome).Inc()
}

var safetyRefusals = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "safety_refusals_total",
		Help:      "Actions refused because a daily ceiling was reached.",
	},
	[]string{"kind"},
)

func SafetyRefused(kind string) {
	safetyRefusals.WithLabelValues(kind).Inc()
}
