package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/sensor"
)

// SensorResponse is the API view of one catalog record.
type SensorResponse struct {
	Name           string `json:"name"`
	UniqueID       string `json:"unique_id"`
	RawID          string `json:"raw_id"`
	Kind           string `json:"kind"`
	Unit           string `json:"unit,omitempty"`
	DeviceClass    string `json:"device_class,omitempty"`
	StateTopic     string `json:"state_topic"`
	DiscoveryTopic string `json:"discovery_topic"`
}

// SensorListResponse wraps the sensor list.
type SensorListResponse struct {
	Sensors []SensorResponse `json:"sensors"`
	Count   int              `json:"count"`
}

func toSensorResponse(rec *sensor.Record) SensorResponse {
	kind := rec.Kind.String()
	if rec.Kind == sensor.KindUnknown && rec.KindTag != "" {
		kind = rec.KindTag
	}
	desc := sensor.Describe(rec.Kind)
	return SensorResponse{
		Name:           rec.Name,
		UniqueID:       rec.UniqueID,
		RawID:          rec.RawID,
		Kind:           kind,
		Unit:           desc.Unit,
		DeviceClass:    desc.Classification,
		StateTopic:     rec.StateTopic,
		DiscoveryTopic: rec.DiscoveryTopic,
	}
}

// handleListSensors returns the records of the current or last catalog.
// The list is empty before the first successful start.
func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	records := s.service.Sensors()
	out := make([]SensorResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toSensorResponse(rec))
	}
	writeJSON(w, http.StatusOK, SensorListResponse{Sensors: out, Count: len(out)})
}

// handleGetCategories returns the category set used for the next start.
func (s *Server) handleGetCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Categories())
}

// handleSetCategories replaces the enabled categories. A running service is
// restarted so the new set takes effect.
func (s *Server) handleSetCategories(w http.ResponseWriter, r *http.Request) {
	var cats hardware.Categories
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cats); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if dec.More() {
		writeBadRequest(w, "unexpected data after JSON body")
		return
	}
	if !cats.Any() {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "at least one sensor category must be enabled")
		return
	}

	if err := s.control.Reconfigure(r.Context(), cats); err != nil {
		s.logger.Warn("sensor reconfiguration failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}
