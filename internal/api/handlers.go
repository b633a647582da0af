package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/internal/types"
)

// maxIngestBytes bounds one NDJSON upload
const maxIngestBytes = 32 << 20

func (s *Server) zoneOccupancy(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	zoneID := mux.Vars(r)["zone"]
	if !scope.AllowsZone(zoneID) {
		s.writeError(w, r, errOutOfScope)
		return
	}

	snap, err := s.deps.Classifier.ZoneSnapshot(r.Context(), scope.TenantID, zoneID, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) reconcileZone(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	zoneID := mux.Vars(r)["zone"]
	if !scope.AllowsZone(zoneID) {
		s.writeError(w, r, errOutOfScope)
		return
	}

	zone, err := s.deps.Machine.Reconcile(r.Context(), scope.TenantID, zoneID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, zone)
}

type bindRequest struct {
	DeviceID string `json:"deviceId"`
}

func (s *Server) bindBay(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	bayID := mux.Vars(r)["bay"]

	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		s.writeError(w, r, badRequest("body must be {\"deviceId\": \"...\"}"))
		return
	}

	bay, err := s.deps.Store.GetBay(r.Context(), scope.TenantID, bayID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !scope.AllowsZone(bay.ZoneID) {
		s.writeError(w, r, errOutOfScope)
		return
	}

	sensor, err := s.deps.Store.BindSensor(r.Context(), scope.TenantID, req.DeviceID, bayID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Bound sensor to bay", "tenant", scope.TenantID, "device_id", req.DeviceID, "bay_id", bayID)
	s.writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) sensorHealth(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	deviceID := mux.Vars(r)["sensor"]

	sensor, err := s.deps.Store.GetSensorByDevice(r.Context(), scope.TenantID, deviceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sensor.ZoneID != nil && !scope.AllowsZone(*sensor.ZoneID) {
		s.writeError(w, r, errOutOfScope)
		return
	}

	report, err := s.deps.Scorer.SensorHealth(r.Context(), scope.TenantID, deviceID, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	var statuses []types.AlertStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := types.AlertStatus(strings.ToUpper(strings.TrimSpace(part)))
			switch st {
			case types.AlertOpen, types.AlertAcknowledged, types.AlertResolved:
				statuses = append(statuses, st)
			default:
				s.writeError(w, r, badRequest("unknown alert status %q", part))
				return
			}
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequest("invalid limit %q", raw))
			return
		}
		limit = n
	}

	alerts, err := s.deps.Alerts.List(r.Context(), scope.TenantID, statuses, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.alertAction(w, r, s.deps.Alerts.Acknowledge)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	s.alertAction(w, r, s.deps.Alerts.Resolve)
}

type alertActionFunc func(ctx context.Context, tenantID string, id uuid.UUID, actor string) (*types.Alert, error)

func (s *Server) alertAction(w http.ResponseWriter, r *http.Request, action alertActionFunc) {
	scope := scopeFrom(r)

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, badRequest("invalid alert id"))
		return
	}

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, r, badRequest("invalid body: %v", err))
		return
	}

	alert, err := action(r.Context(), scope.TenantID, id, strings.TrimSpace(req.Actor))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

type thresholdsResponse struct {
	TenantID  string                `json:"tenantId"`
	Version   int                   `json:"version"`
	Overrides map[string]float64    `json:"overrides"`
	Effective thresholds.Thresholds `json:"effective"`
	System    thresholds.Thresholds `json:"system"`
}

func (s *Server) getThresholds(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	overrides, version, _, err := s.deps.Store.GetTenantThresholds(r.Context(), scope.TenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if overrides == nil {
		overrides = map[string]float64{}
	}

	s.writeJSON(w, http.StatusOK, thresholdsResponse{
		TenantID:  scope.TenantID,
		Version:   version,
		Overrides: overrides,
		Effective: s.deps.Thresholds.Resolve(r.Context(), scope.TenantID),
		System:    s.deps.Thresholds.System(),
	})
}

func (s *Server) putThresholds(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	var overrides map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		s.writeError(w, r, badRequest("body must be a flat map of threshold values: %v", err))
		return
	}
	for key := range overrides {
		if !thresholds.IsKnownKey(key) {
			s.writeError(w, r, badRequest("unknown threshold %q", key))
			return
		}
	}

	if _, err := s.deps.Store.PutTenantThresholds(r.Context(), scope.TenantID, overrides); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Updated tenant thresholds", "tenant", scope.TenantID, "overrides", len(overrides))
	s.getThresholds(w, r)
}

func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	source := strings.TrimSpace(r.URL.Query().Get("source"))
	var cursors ingest.CursorStore
	if source == "" {
		source = "api:" + uuid.NewString()
	} else {
		cursors = s.deps.Cursors
	}

	body := http.MaxBytesReader(w, r.Body, maxIngestBytes)
	summary, err := s.deps.Pipeline.ProcessBatch(r.Context(), scope.TenantID, source, body, cursors)
	if err != nil {
		s.logger.Error("Batch ingestion stopped early",
			"tenant", scope.TenantID,
			"source", source,
			"cursor", summary.Cursor,
			"error", err)
		s.writeJSON(w, http.StatusUnprocessableEntity, struct {
			Error   string          `json:"error"`
			Summary *ingest.Summary `json:"summary"`
		}{err.Error(), summary})
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}
