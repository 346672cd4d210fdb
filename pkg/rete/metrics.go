package rete

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// deliveriesTotal counts messages delivered to nodes
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rete_deliveries_total",
		Help: "Total number of update messages delivered to nodes",
	}, []string{"network"})

	// fallThroughTotal counts messages delivered without queueing
	fallThroughTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rete_fallthrough_deliveries_total",
		Help: "Total number of update messages delivered immediately, bypassing the mailbox queue",
	}, []string{"network"})

	// batchesTotal counts flushes that processed at least one change
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rete_batches_total",
		Help: "Total number of change batches processed",
	}, []string{"network"})

	// groupRecomputationsTotal counts communication group map rebuilds
	groupRecomputationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rete_group_recomputations_total",
		Help: "Total number of communication group recomputations",
	}, []string{"network"})

	// flushDuration tracks the time to drain a batch
	flushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rete_flush_duration_seconds",
		Help:    "Time to bring a network to quiescence after a batch of changes",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	}, []string{"network"})
)

// Stats is a snapshot of a network's counters.
type Stats struct {
	Batches             int
	Deliveries          int
	FallThrough         int
	GroupRecomputations int
	DelayedCommands     int
}

func (n *Network) countDelivery(fallThrough bool) {
	n.stats.Deliveries++
	if fallThrough {
		n.stats.FallThrough++
	}
	if !n.metrics {
		return
	}
	deliveriesTotal.WithLabelValues(n.name).Inc()
	if fallThrough {
		fallThroughTotal.WithLabelValues(n.name).Inc()
	}
}

func (n *Network) countRecomputation() {
	n.stats.GroupRecomputations++
	if n.metrics {
		groupRecomputationsTotal.WithLabelValues(n.name).Inc()
	}
}

func (n *Network) countBatch(seconds float64) {
	n.stats.Batches++
	if n.metrics {
		batchesTotal.WithLabelValues(n.name).Inc()
		flushDuration.WithLabelValues(n.name).Observe(seconds)
	}
}
