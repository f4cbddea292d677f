package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Service       ServiceMetrics `json:"service"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// ServiceMetrics summarises the telemetry service.
type ServiceMetrics struct {
	State           telemetry.State `json:"state"`
	Sensors         int             `json:"sensors"`
	Runs            int             `json:"runs"`
	RestartAttempts int             `json:"restart_attempts"`
}

// handleMetrics returns a JSON summary of process and service health. The
// Prometheus exposition lives at /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.service.Status()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Service: ServiceMetrics{
			State:           st.State,
			Sensors:         st.Sensors,
			Runs:            st.Runs,
			RestartAttempts: s.control.Status().RestartAttempts,
		},
	}

	writeJSON(w, http.StatusOK, metrics)
}
