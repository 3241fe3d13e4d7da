package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState exposes the current State as its integer value.
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_db_connection_state",
		Help: "Current database connection state (0=disconnected 1=connecting 2=verifying 3=ready 4=failed)",
	})

	// ReconnectAttempts counts scheduled reconnect attempts.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_db_reconnect_attempts_total",
		Help: "Total number of database reconnect attempts",
	})

	// RetryCeilingReached counts transitions into the Failed state.
	RetryCeilingReached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_db_retry_ceiling_reached_total",
		Help: "Total number of times the reconnect retry ceiling was reached",
	})

	// QueriesTotal counts executed queries by outcome.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_db_queries_total",
		Help: "Total database queries by outcome",
	}, []string{"outcome"}) // "ok", "not_connected", "timeout", "failed"

	// QueryDuration observes the duration of dispatched queries.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_db_query_duration_seconds",
		Help:    "Duration of dispatched database queries in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)
