package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_questions_total",
			Help: "Total number of user questions accepted by sessions.",
		},
	)
	stepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_step_failures_total",
			Help: "Total number of pipeline step failures by step and cause.",
		},
		[]string{"step", "cause"},
	)
	stepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabletalk_step_duration_seconds",
			Help:    "Pipeline step latency by step.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"step"},
	)
	artifactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_artifacts_total",
			Help: "Total number of artifacts stored by kind.",
		},
		[]string{"kind"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletalk_sessions_active",
			Help: "Current count of open sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		stepFailuresTotal,
		stepDurationSeconds,
		artifactsTotal,
		sessionsActive,
	)
}

func ObserveQuestion() {
	questionsTotal.Inc()
}

func ObserveStep(step string, elapsed time.Duration) {
	stepDurationSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
}

func ObserveStepFailure(step, cause string) {
	stepFailuresTotal.WithLabelValues(step, cause).Inc()
}

func ObserveArtifact(kind string) {
	artifactsTotal.WithLabelValues(kind).Inc()
}

func SessionOpened() {
	sessionsActive.Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}
