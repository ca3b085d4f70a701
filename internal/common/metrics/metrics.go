package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay_bot"

var (
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Inbound updates by kind.",
	}, []string{"kind"})

	RelayedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relayed_messages_total",
		Help:      "Messages relayed between users and the staff group.",
	}, []string{"direction", "result"})

	VerificationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_outcomes_total",
		Help:      "Verification transitions by mode and outcome.",
	}, []string{"mode", "outcome"})

	BroadcastDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_deliveries_total",
		Help:      "Broadcast recipients by result.",
	}, []string{"result"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Two-tier cache lookups by layer and result.",
	}, []string{"layer", "result"})

	MediaGroupFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_group_flushes_total",
		Help:      "Coalesced album batches sent.",
	})

	MediaGroupSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "media_group_size",
		Help:      "Items per coalesced album batch.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	RemoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_errors_total",
		Help:      "Failed calls to remote collaborators.",
	}, []string{"service"})
)
