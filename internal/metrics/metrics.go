// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventSubscribers is the number of live event queues.
	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trainfriends_event_subscribers",
			Help: "Number of live event stream queues",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainfriends_events_published_total",
			Help: "Events enqueued onto subscriber queues",
		},
		[]string{"type"},
	)

	// EventsDropped counts events discarded because the subscriber queue was full.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainfriends_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
		[]string{"type"},
	)

	LocationPushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainfriends_location_pushes_total",
			Help: "Location reports accepted",
		},
	)

	ReaperSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainfriends_reaper_sweeps_total",
			Help: "Reaper sweeps by task and result",
		},
		[]string{"task", "result"}, // result: ok, error
	)

	ReaperRowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainfriends_reaper_rows_deleted_total",
			Help: "Rows removed by reaper sweeps",
		},
		[]string{"task"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainfriends_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
