package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/cachemir/shardpipe/pkg/pipeline")

var (
	mEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardpipe_pipeline_commands_enqueued_total",
			Help: "The total number of commands queued on pipelines",
		},
		[]string{"command"},
	)
	mReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardpipe_pipeline_placeholders_settled_total",
			Help: "The total number of placeholders settled, by outcome",
		},
		[]string{"outcome"},
	)
	mTransportFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardpipe_pipeline_transport_failures_total",
			Help: "The total number of syncs aborted by a transport failure",
		},
		[]string{"op"},
	)
	mSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardpipe_pipeline_sync_duration_seconds",
			Help:    "The duration of pipeline syncs, write through last reply",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
	mBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardpipe_pipeline_batch_size",
			Help:    "The number of commands sent per sync",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

const (
	outcomeConnectionError = "connection_error"
	outcomeClosed          = "closed"
)
