package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery_worker",
			Name:      "events_processed_total",
			Help:      "Total delivery events processed, by outcome.",
		},
		[]string{"outcome"}, // "ack", "redeliver", "terminate"
	)

	duplicateEventsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delivery_worker",
			Name:      "duplicate_events_total",
			Help:      "Total redelivered events short-circuited by the idempotency guard.",
		},
	)

	channelDeliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery_worker",
			Name:      "channel_deliveries_total",
			Help:      "Total per-channel delivery outcomes.",
		},
		[]string{"channel", "status"}, // status: "delivered" or "failed"
	)

	eventProcessingDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "delivery_worker",
			Name:      "event_processing_duration_seconds",
			Help:      "Duration of full delivery event processing.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
