// Package observability registers the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridepool"

var (
	MatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_requests_total", Help: "Ride match requests by outcome"},
		[]string{"result"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "match_latency_seconds", Help: "Ride match latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	MatchResultSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "match_result_size", Help: "Number of rides returned per match request",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	RouteRecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_recompute_total", Help: "Pooled route recomputations by outcome"},
		[]string{"result"},
	)
	RoutingOracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "routing_oracle_latency_seconds", Help: "Directions provider latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	RoutingOracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "routing_oracle_requests_total", Help: "Directions provider calls by outcome"},
		[]string{"result"},
	)

	CountdownsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "countdowns_started_total", Help: "Group countdowns started",
	})
	FinalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "group_finalize_total", Help: "Group finalize runs by outcome"},
		[]string{"result"},
	)
	GroupLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "group_lock_wait_seconds", Help: "Time spent acquiring a group lease",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ws_connections", Help: "Open websocket connections",
	})
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Realtime events published by name"},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
