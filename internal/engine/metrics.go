package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the engine's Prometheus collectors. With a nil Registerer
// they are created but never registered, so engines in tests do not
// collide on the default registry.
type metrics struct {
	localOps        *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	remoteOps       *prometheus.CounterVec
	violations      *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	reconcileTime   prometheus.Histogram
	queueDepth      prometheus.Gauge
	documents       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		localOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "local_operations_total",
			Help:      "Local mutations by outcome (emitted, noop, rejected).",
		}, []string{"outcome"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "local_rejections_total",
			Help:      "Rejected local mutations by reason.",
		}, []string{"reason"}),
		remoteOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "remote_operations_total",
			Help:      "Remote operations by outcome (changed, duplicate, error).",
		}, []string{"outcome"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "constraint_violations_total",
			Help:      "Eventual constraint violations observed after merges.",
		}, []string{"constraint"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "reconciliations_total",
			Help:      "Escrow reconciliation rounds by outcome (ok, error).",
		}, []string{"outcome"}),
		reconcileTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concord",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of escrow reconciliation rounds.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "concord",
			Name:      "inbound_queue_depth",
			Help:      "Inbound events waiting for the Run loop.",
		}),
		documents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "concord",
			Name:      "documents_open",
			Help:      "Documents held by the engine.",
		}),
	}
}
