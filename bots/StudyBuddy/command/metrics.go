package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studybuddy",
			Name:      "commands_total",
			Help:      "Dispatched commands by outcome.",
		},
		[]string{"command", "outcome"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "studybuddy",
			Name:      "command_duration_seconds",
			Help:      "Time spent in command handlers.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		},
		[]string{"command"},
	)
)
