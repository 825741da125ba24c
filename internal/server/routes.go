// Package server wires HTTP handlers into a chi router for the RoomChat
// application.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the application router: health check,
// WebSocket endpoint, Prometheus metrics, and the built-in test page.
func SetupRoutes(hub *Hub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/healthz", HealthHandler)
	r.Get("/ws", WebSocketHandler(hub))
	r.Get("/test", TestPageHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
