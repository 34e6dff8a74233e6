package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpbridge_events_total",
			Help: "Total number of dispatched events by entity type, event type and outcome",
		},
		[]string{"entity_type", "event_type", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erpbridge_dispatch_duration_seconds",
			Help:    "Dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"entity_type"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erpbridge_queue_depth",
			Help: "Number of envelopes waiting in the ingestion queue",
		},
	)

	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpbridge_retries_total",
			Help: "Total number of failed events re-dispatched by the retry sweep",
		},
	)

	TransportEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpbridge_transport_events_total",
			Help: "Total number of events received per inbound transport",
		},
		[]string{"transport"},
	)
)
