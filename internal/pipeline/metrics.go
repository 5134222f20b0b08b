package pipeline

import (
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of the pipeline.
type Metrics struct {
	assets      *prometheus.CounterVec
	bytesStaged *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		assets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdata",
			Name:      "assets_total",
			Help:      "Release assets processed, by partition and outcome.",
		}, []string{"partition", "outcome"}),
		bytesStaged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdata",
			Name:      "staged_bytes_total",
			Help:      "Bytes uploaded to object storage.",
		}, []string{"partition"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdata",
			Name:      "partition_runs_total",
			Help:      "Partition runs by final state.",
		}, []string{"partition", "state"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tripdata",
			Name:      "partition_duration_seconds",
			Help:      "Wall time of partition runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"partition"}),
	}
}

func (m *Metrics) observeAsset(partition string, outcome assetOutcome) {
	if m == nil {
		return
	}
	m.assets.WithLabelValues(partition, outcome.String()).Inc()
}

func (m *Metrics) observeBytes(partition string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesStaged.WithLabelValues(partition).Add(float64(n))
}

func (m *Metrics) observeRun(partition string, state domain.PartitionState, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(partition, string(state)).Inc()
	m.duration.WithLabelValues(partition).Observe(elapsed.Seconds())
}
