package occupancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/metrics"
)

// maxApplyAttempts bounds compare-and-swap retries against concurrent writers
const maxApplyAttempts = 3

// Request is one normalized event to apply to its bay
type Request struct {
	TenantID string
	Sensor   *types.Sensor
	Event    *types.Event
	// Explicit binding carried by the reading; empty means use the
	// sensor's stored binding
	BayID  string
	ZoneID string
}

// Result describes what Apply did to the bay
type Result struct {
	BayID   string
	ZoneID  string
	From    types.BayStatus
	To      types.BayStatus
	Changed bool
	Record  *types.OccupancyRecord
}

// Machine drives stored bay status from sensor events
type Machine struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMachine creates a state machine over the given store. m may be nil.
func NewMachine(s store.Store, m *metrics.Metrics, logger *slog.Logger) *Machine {
	return &Machine{
		store:   s,
		metrics: m,
		logger:  logger,
	}
}

// Apply resolves the event's bay and applies the transition rule. An
// unknown or missing binding is reported as store.ErrNotFound.
func (m *Machine) Apply(ctx context.Context, req Request) (*Result, error) {
	bay, zone, err := m.resolveBinding(ctx, req)
	if err != nil {
		return nil, err
	}

	occupied, ok := req.Event.Occupied()
	if !ok {
		// Heartbeat only
		if err := m.store.TouchBayHeartbeat(ctx, req.TenantID, bay.ID, req.Event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to update heartbeat: %w", err)
		}
		return &Result{BayID: bay.ID, ZoneID: zone.ID, From: bay.Status, To: bay.Status}, nil
	}

	for attempt := 1; ; attempt++ {
		result, err := m.applyOnce(ctx, req, bay, zone, occupied)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, store.ErrStaleStatus) || attempt >= maxApplyAttempts {
			return nil, err
		}

		m.logger.Debug("Bay status changed concurrently, retrying",
			"tenant", req.TenantID, "bay_id", bay.ID, "attempt", attempt)

		if bay, err = m.store.GetBay(ctx, req.TenantID, bay.ID); err != nil {
			return nil, err
		}
	}
}

func (m *Machine) applyOnce(ctx context.Context, req Request, bay *types.Bay, zone *types.Zone, occupied bool) (*Result, error) {
	ev := req.Event
	step := Decide(bay.Status, occupied)

	result := &Result{
		BayID:  bay.ID,
		ZoneID: zone.ID,
		From:   bay.Status,
		To:     step.Next,
	}

	if step.Next == bay.Status {
		if err := m.store.TouchBayHeartbeat(ctx, req.TenantID, bay.ID, ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to update heartbeat: %w", err)
		}
		return result, nil
	}

	tr := store.Transition{
		TenantID:       req.TenantID,
		BayID:          bay.ID,
		ZoneID:         zone.ID,
		ExpectedStatus: bay.Status,
		NewStatus:      step.Next,
		Heartbeat:      ev.Timestamp,
		ZoneDelta:      step.ZoneDelta,
	}

	if step.Next == types.BayOccupied {
		since := ev.Timestamp
		tr.OccupiedSince = &since
	}

	if step.Record != "" {
		rec := &types.OccupancyRecord{
			ID:       uuid.New(),
			TenantID: req.TenantID,
			Kind:     step.Record,
			BayID:    bay.ID,
			ZoneID:   zone.ID,
			SensorID: req.Sensor.ID,
			EventID:  ev.ID,
			At:       ev.Timestamp,
		}
		if step.Record == types.OccupancyLeave {
			minutes := DwellMinutes(bay.OccupiedSince, ev.Timestamp)
			rec.DurationMinutes = &minutes
			rec.Revenue = Revenue(minutes, zone.HourlyRate)
		}
		tr.Record = rec
	}

	if err := m.store.ApplyTransition(ctx, tr); err != nil {
		return nil, err
	}

	result.Changed = true
	result.Record = tr.Record

	if tr.Record != nil {
		m.metrics.ObserveTransition(string(tr.Record.Kind))
		m.logger.Info("Bay transition",
			"tenant", req.TenantID,
			"bay_id", bay.ID,
			"zone_id", zone.ID,
			"kind", tr.Record.Kind,
			"at", ev.Timestamp.Format(time.RFC3339))
	} else {
		m.logger.Info("Bay status settled", "tenant", req.TenantID, "bay_id", bay.ID, "status", step.Next)
	}

	return result, nil
}

// resolveBinding finds the bay and zone an event applies to
func (m *Machine) resolveBinding(ctx context.Context, req Request) (*types.Bay, *types.Zone, error) {
	bayID := req.BayID
	if bayID == "" && req.Sensor.BayID != nil {
		bayID = *req.Sensor.BayID
	}
	if bayID == "" {
		return nil, nil, fmt.Errorf("%w: sensor %s has no bay binding", store.ErrNotFound, req.Sensor.DeviceID)
	}

	bay, err := m.store.GetBay(ctx, req.TenantID, bayID)
	if err != nil {
		return nil, nil, err
	}

	// A bay bound to a different device is not this sensor's bay
	if bay.SensorID != nil && *bay.SensorID != req.Sensor.ID {
		return nil, nil, fmt.Errorf("%w: bay %s is not bound to device %s",
			store.ErrNotFound, bay.ID, req.Sensor.DeviceID)
	}

	if req.ZoneID != "" && req.ZoneID != bay.ZoneID {
		return nil, nil, fmt.Errorf("%w: bay %s is not in zone %s", store.ErrNotFound, bay.ID, req.ZoneID)
	}

	zone, err := m.store.GetZone(ctx, req.TenantID, bay.ZoneID)
	if err != nil {
		return nil, nil, err
	}
	return bay, zone, nil
}

// Reconcile recomputes a zone's occupied counter from its bays
func (m *Machine) Reconcile(ctx context.Context, tenantID, zoneID string) (*types.Zone, error) {
	before, err := m.store.GetZone(ctx, tenantID, zoneID)
	if err != nil {
		return nil, err
	}

	occupied, err := m.store.ReconcileZone(ctx, tenantID, zoneID)
	if err != nil {
		return nil, err
	}

	if occupied != before.OccupiedBays {
		m.logger.Warn("Zone counter drift corrected",
			"tenant", tenantID,
			"zone_id", zoneID,
			"counter", before.OccupiedBays,
			"actual", occupied)
	}

	before.OccupiedBays = occupied
	return before, nil
}

// Step is the outcome of the transition rule for one reading
type Step struct {
	Next      types.BayStatus
	Record    types.OccupancyKind
	ZoneDelta int
}

// Decide applies the transition rule to a stored status and a decoded
// occupancy flag. UNKNOWN only exists as the initial stored value: true
// arrives like VACANT, false settles to VACANT without a record.
func Decide(current types.BayStatus, occupied bool) Step {
	switch {
	case occupied && current != types.BayOccupied:
		return Step{Next: types.BayOccupied, Record: types.OccupancyArrive, ZoneDelta: 1}
	case !occupied && current == types.BayOccupied:
		return Step{Next: types.BayVacant, Record: types.OccupancyLeave, ZoneDelta: -1}
	case !occupied && current == types.BayUnknown:
		return Step{Next: types.BayVacant}
	default:
		return Step{Next: current}
	}
}

// DwellMinutes is the whole-minute stay from since to leave, zero when the
// arrival time is unknown and never negative
func DwellMinutes(since *time.Time, leave time.Time) int {
	if since == nil {
		return 0
	}
	minutes := int(math.Round(leave.Sub(*since).Minutes()))
	if minutes < 0 {
		return 0
	}
	return minutes
}

// Revenue is minutes/60 x hourly rate rounded to 2 decimals, nil for
// unpriced zones
func Revenue(minutes int, hourlyRate *float64) *float64 {
	if hourlyRate == nil {
		return nil
	}
	v := math.Round(float64(minutes)/60*(*hourlyRate)*100) / 100
	return &v
}
