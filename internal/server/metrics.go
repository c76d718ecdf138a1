package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	experimentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taiga_experiments_created_total",
		Help: "Number of experiments created.",
	})

	trialsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiga_trials_generated_total",
		Help: "Number of trials generated, by generation node.",
	}, []string{"node"})

	generationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiga_generation_errors_total",
		Help: "Number of failed generation requests, by error kind.",
	}, []string{"kind"})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taiga_generation_duration_seconds",
		Help:    "Wall time of candidate generation requests.",
		Buckets: prometheus.DefBuckets,
	})

	observationsAttached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taiga_observations_attached_total",
		Help: "Number of observations attached to trials.",
	})
)
