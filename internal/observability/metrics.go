package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationsAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "locations_accepted_total", Help: "Location reports persisted"})
	LocationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "locations_rejected_total", Help: "Location reports rejected"},
		[]string{"reason"},
	)
	LiveSubscribers    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_tracker", Name: "live_subscribers", Help: "Connected live channel subscribers"})
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "live_subscribers_dropped_total", Help: "Subscribers dropped because their send buffer was full"})
	UpdatesBroadcast   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "updates_broadcast_total", Help: "Device updates fanned out to subscribers"})

	RouteResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "route_resolutions_total", Help: "Resolved routes by provenance"},
		[]string{"provenance"},
	)
	RouteLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "fleet_tracker", Name: "route_resolve_seconds", Help: "Route resolution latency seconds"})
	ProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "route_provider_failures_total", Help: "Failed routing provider attempts"},
		[]string{"provider"},
	)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "fleet_tracker", Name: "route_provider_breaker_state", Help: "Breaker state per provider (0 closed, 1 half-open, 2 open)"},
		[]string{"provider"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_tracker", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleet_tracker",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	GeoMirrorConsumed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "geo_mirror", Name: "events_consumed_total", Help: "Device location events read from Kafka"})
	GeoMirrorSkipped  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "geo_mirror", Name: "events_skipped_total", Help: "Events not mirrored"},
		[]string{"reason"},
	)
	GeoMirrorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "geo_mirror", Name: "redis_writes_total", Help: "GEO index writes by outcome"},
		[]string{"outcome"},
	)
)
