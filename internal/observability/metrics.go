package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts lifecycle operations by name (create, accept,
	// complete, cancel) and outcome (ok, precondition_failed, validation,
	// settlement_failed, transport).
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "ride_transitions_total", Help: "Ride lifecycle operations by outcome"},
		[]string{"transition", "outcome"},
	)
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "settlement_failures_total", Help: "Wallet debits that failed during ride completion"})
	LocationSamples    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "location_samples_total", Help: "Driver location samples by throttle decision"},
		[]string{"decision"},
	)
	Subscriptions       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_hailing", Name: "ride_subscriptions", Help: "Live ride change subscriptions"})
	DroppedChangeEvents = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "change_events_dropped_total", Help: "Change events dropped because a subscriber fell behind"})
	WSSessions          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_hailing", Name: "ws_sessions", Help: "Connected websocket sessions"})
	EventsPublished     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "events_published_total", Help: "Ride change events forwarded to the broker"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hailing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
