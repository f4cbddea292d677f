package api

import (
	"net/http"

	"github.com/nerrad567/hwmqtt/internal/supervisor"
	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// StatusResponse combines the service snapshot with the restart policy state.
type StatusResponse struct {
	Version    string            `json:"version"`
	Service    telemetry.Status  `json:"service"`
	Supervisor supervisor.Status `json:"supervisor"`
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Version:    s.version,
		Service:    s.service.Status(),
		Supervisor: s.control.Status(),
	}
}

// handleStatus returns the current service and supervisor status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleServiceStart starts the service and blocks until it is running or
// the start fails. Starting a running service is not an error.
func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Start(r.Context()); err != nil {
		s.logger.Warn("service start via API failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// handleServiceStop stops the service. Stopping a stopped service is not an error.
func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Stop(r.Context()); err != nil {
		s.logger.Warn("service stop via API failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// handleServiceRestart stops the service, waits out the cooldown and starts it again.
func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Restart(r.Context()); err != nil {
		s.logger.Warn("service restart via API failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}
