package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesClaimedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "messages_claimed_total",
			Help:      "Total messages claimed from the store for delivery.",
		},
	)

	eventsPublishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "events_published_total",
			Help:      "Total delivery events published to the bus.",
		},
		[]string{"status"}, // "success" or "error"
	)

	pollDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "poll_duration_seconds",
			Help:      "Duration of a claim-and-publish poll cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	staleRequeuedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "stale_processing_requeued_total",
			Help:      "Total stale processing messages requeued by the sweep.",
		},
	)
)
