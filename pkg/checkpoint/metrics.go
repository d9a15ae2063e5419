package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkpointFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_checkpoint_flushes_total",
		Help: "Total checkpoint flushes by backend",
	}, []string{"backend"})

	checkpointEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_checkpoint_entries_total",
		Help: "Total entries written to checkpoints by backend",
	}, []string{"backend"})

	checkpointFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epigraph_checkpoint_flush_duration_seconds",
		Help:    "Checkpoint flush duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	checkpointCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "epigraph_checkpoint_cursor",
		Help: "Last persisted resume cursor by job",
	}, []string{"job"})
)
