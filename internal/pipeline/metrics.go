package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaede_turns_total",
		Help: "Conversation turns by outcome.",
	}, []string{"status"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kaede_turn_duration_seconds",
		Help:    "Wall time of a full conversation turn.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaede_pipeline_state",
		Help: "Pipeline lifecycle state (0 stopped, 1 starting, 2 running, 3 stopping, 4 error).",
	})
)

func stateValue(s State) float64 {
	switch s {
	case StateStopped:
		return 0
	case StateStarting:
		return 1
	case StateRunning:
		return 2
	case StateStopping:
		return 3
	case StateError:
		return 4
	}
	return -1
}
