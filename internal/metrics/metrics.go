// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_events_ingested_total",
			Help: "Events turned into notifications, by notification type",
		},
		[]string{"type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_events_rejected_total",
			Help: "Events that did not produce a notification, by reason",
		},
		[]string{"reason"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Channel delivery outcomes",
		},
		[]string{"channel", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_delivery_duration_seconds",
			Help:    "Time spent in a single channel delivery attempt",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5, 15},
		},
		[]string{"channel"},
	)

	PushConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_push_connections",
			Help: "Live realtime connections held by this instance",
		},
	)
)

// Rejection reasons.
const (
	ReasonValidation = "validation"
	ReasonDependency = "dependency"
	ReasonDuplicate  = "duplicate"
	ReasonMalformed  = "malformed"
)
