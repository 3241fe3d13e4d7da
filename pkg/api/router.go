package api

import (
	"net/http"

	"github.com/rs/zerolog"
)

// NewRouter registers the gateway routes. metricsHandler serves GET /metrics.
func NewRouter(h *Handler, metricsHandler http.Handler, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /items", h.GetItems)
	mux.HandleFunc("GET /skinport", h.GetItems)
	mux.HandleFunc("POST /purchase", h.Purchase)
	mux.HandleFunc("POST /seed", h.Seed)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("POST /admin/cache/flush", h.FlushCache)
	mux.HandleFunc("POST /admin/db/reconnect", h.ReconnectDatabase)

	return WithRequestID(logger, WithLogging(logger, WithMetrics(mux)))
}
