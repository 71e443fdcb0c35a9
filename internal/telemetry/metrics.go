package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of operational counters/gauges the sync core exposes,
// grounded on the teacher's pervasive prometheus/client_golang usage across
// ollama-distributed/pkg/... (§4.11). Registration is lazy: a library
// consumer that never calls NewMetrics/Default pays nothing, and tests can
// construct a private *Metrics against their own registry without
// colliding with prometheus.DefaultRegisterer.
type Metrics struct {
	ConflictsDetected   *prometheus.CounterVec
	ConflictsResolved   *prometheus.CounterVec
	ConflictsDeferred   prometheus.Counter
	ChunksPushed        prometheus.Counter
	PullCycles          prometheus.Counter
	BackoffEvents       prometheus.Counter
	SyncCycleDuration   prometheus.Histogram
	PendingConflictGauge prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// NewMetrics constructs a fresh Metrics set registered against reg. Pass a
// prometheus.NewRegistry() in tests; pass nil to register against
// prometheus.DefaultRegisterer for a production process exposing /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ConflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpus_sync",
			Name:      "conflicts_detected_total",
			Help:      "Conflicts classified by the conflict detector, by type.",
		}, []string{"type"}),
		ConflictsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpus_sync",
			Name:      "conflicts_resolved_total",
			Help:      "Conflicts resolved automatically, by strategy.",
		}, []string{"strategy"}),
		ConflictsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus_sync",
			Name:      "conflicts_deferred_total",
			Help:      "Conflicts that fell through automatic resolution to manual.",
		}),
		ChunksPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus_sync",
			Name:      "push_chunks_total",
			Help:      "Push chunks sent to the remote store.",
		}),
		PullCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus_sync",
			Name:      "pull_cycles_total",
			Help:      "Completed pull cycles (one fetch_zone_changes page each).",
		}),
		BackoffEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corpus_sync",
			Name:      "backoff_events_total",
			Help:      "Times the sync engine entered Backoff state after a retryable failure.",
		}),
		SyncCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpus_sync",
			Name:      "sync_cycle_duration_seconds",
			Help:      "Wall-clock duration of one push+pull sync cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingConflictGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corpus_sync",
			Name:      "pending_conflicts",
			Help:      "Conflicts currently deferred to manual resolution.",
		}),
	}
	reg.MustRegister(
		m.ConflictsDetected, m.ConflictsResolved, m.ConflictsDeferred,
		m.ChunksPushed, m.PullCycles, m.BackoffEvents,
		m.SyncCycleDuration, m.PendingConflictGauge,
	)
	return m
}

// Default returns a process-wide Metrics set registered against
// prometheus.DefaultRegisterer, built once on first use.
func Default() *Metrics {
	once.Do(func() { metrics = NewMetrics(prometheus.DefaultRegisterer) })
	return metrics
}
