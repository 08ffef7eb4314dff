package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	OutcomeApplied      = "applied"
	OutcomeRejected     = "rejected"
	OutcomeSkipped      = "skipped"
	OutcomeUnauthorized = "unauthorized"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsync_batches_total",
		Help: "Sync batches received, by result.",
	}, []string{"result"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsync_operations_total",
		Help: "Sync operations processed, by table, kind, and outcome.",
	}, []string{"table", "operation", "outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitsync_batch_duration_seconds",
		Help:    "Time spent applying one sync batch.",
		Buckets: prometheus.DefBuckets,
	})

	fetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitsync_fetches_total",
		Help: "Remote fetch requests served.",
	})
)
