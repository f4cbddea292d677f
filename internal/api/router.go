package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// Prometheus scrape endpoint
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleListSensors)
			r.Get("/categories", s.handleGetCategories)
			r.Put("/categories", s.handleSetCategories)
		})

		r.Route("/service", func(r chi.Router) {
			r.Post("/start", s.handleServiceStart)
			r.Post("/stop", s.handleServiceStop)
			r.Post("/restart", s.handleServiceRestart)
		})
	})

	return r
}

// Broker states reported by the health endpoint.
const (
	brokerConnected    = "connected"
	brokerDisconnected = "disconnected"
	brokerIdle         = "idle"
)

// handleHealth returns the server health status. The broker field is idle
// while no run is active.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.service.Status()
	broker := brokerIdle
	switch {
	case st.BrokerConnected:
		broker = brokerConnected
	case st.State != telemetry.StateStopped:
		broker = brokerDisconnected
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"broker":  broker,
	})
}
