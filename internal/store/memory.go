package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/types"
)

type alertKey struct {
	tenantID  string
	entity    types.EntityRef
	alertType types.AlertType
}

type eventMeta struct {
	id        uuid.UUID
	appliedAt *time.Time
}

type deadLetterKey struct {
	tenantID string
	source   string
	rowIndex int64
}

type thresholdRow struct {
	values  map[string]float64
	version int
}

// MemoryStore is a mutex-guarded Store used by tests, the replay CLI and
// single-node development runs. It enforces the same keys and
// compare-and-swap rules as the Postgres store.
type MemoryStore struct {
	mu sync.Mutex

	sensors        map[uuid.UUID]*types.Sensor
	sensorByDevice map[string]uuid.UUID
	gateways       map[string]*types.Gateway
	zones          map[string]*types.Zone
	bays           map[string]*types.Bay
	eventKeys      map[types.EventKey]*eventMeta
	events         map[uuid.UUID][]types.Event
	deadLetters    []types.DeadLetter
	deadLetterRows map[deadLetterKey]struct{}
	records        []types.OccupancyRecord
	thresholds     map[string]thresholdRow
	alerts         map[uuid.UUID]*types.Alert
	activeAlerts   map[alertKey]uuid.UUID
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sensors:        make(map[uuid.UUID]*types.Sensor),
		sensorByDevice: make(map[string]uuid.UUID),
		gateways:       make(map[string]*types.Gateway),
		zones:          make(map[string]*types.Zone),
		bays:           make(map[string]*types.Bay),
		eventKeys:      make(map[types.EventKey]*eventMeta),
		events:         make(map[uuid.UUID][]types.Event),
		deadLetterRows: make(map[deadLetterKey]struct{}),
		thresholds:     make(map[string]thresholdRow),
		alerts:         make(map[uuid.UUID]*types.Alert),
		activeAlerts:   make(map[alertKey]uuid.UUID),
	}
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

func (m *MemoryStore) EnsureSensor(ctx context.Context, tenantID, deviceID string) (*types.Sensor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sensor, created := m.ensureSensorLocked(tenantID, deviceID)
	cp := *sensor
	return &cp, created, nil
}

func (m *MemoryStore) ensureSensorLocked(tenantID, deviceID string) (*types.Sensor, bool) {
	if id, ok := m.sensorByDevice[key(tenantID, deviceID)]; ok {
		return m.sensors[id], false
	}

	sensor := &types.Sensor{
		ID:        uuid.New(),
		TenantID:  tenantID,
		DeviceID:  deviceID,
		Type:      types.SensorTypeUnassigned,
		Status:    types.SensorStatusActive,
		CreatedAt: time.Now(),
	}
	m.sensors[sensor.ID] = sensor
	m.sensorByDevice[key(tenantID, deviceID)] = sensor.ID
	return sensor, true
}

func (m *MemoryStore) GetSensor(ctx context.Context, tenantID string, id uuid.UUID) (*types.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sensor, ok := m.sensors[id]
	if !ok || sensor.TenantID != tenantID {
		return nil, fmt.Errorf("%w: sensor %s", ErrNotFound, id)
	}
	cp := *sensor
	return &cp, nil
}

func (m *MemoryStore) GetSensorByDevice(ctx context.Context, tenantID, deviceID string) (*types.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.sensorByDevice[key(tenantID, deviceID)]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}
	cp := *m.sensors[id]
	return &cp, nil
}

func (m *MemoryStore) TouchSensor(ctx context.Context, sensorID uuid.UUID, seenAt time.Time, batteryPct *float64, gatewayID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sensor, ok := m.sensors[sensorID]
	if !ok {
		return fmt.Errorf("%w: sensor %s", ErrNotFound, sensorID)
	}

	if sensor.LastSeen == nil || seenAt.After(*sensor.LastSeen) {
		t := seenAt
		sensor.LastSeen = &t
	}
	if batteryPct != nil {
		v := *batteryPct
		sensor.LastBatteryPct = &v
	}
	if gatewayID != nil {
		g := *gatewayID
		sensor.GatewayID = &g
	}
	return nil
}

func (m *MemoryStore) BindSensor(ctx context.Context, tenantID, deviceID, bayID string) (*types.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bay, ok := m.bays[key(tenantID, bayID)]
	if !ok {
		return nil, fmt.Errorf("%w: bay %s", ErrNotFound, bayID)
	}
	sensor, _ := m.ensureSensorLocked(tenantID, deviceID)

	for _, other := range m.bays {
		if other.SensorID != nil && *other.SensorID == sensor.ID {
			other.SensorID = nil
		}
	}
	if bay.SensorID != nil && *bay.SensorID != sensor.ID {
		if prev, ok := m.sensors[*bay.SensorID]; ok {
			prev.BayID, prev.ZoneID, prev.SiteID = nil, nil, nil
		}
	}

	id := sensor.ID
	bay.SensorID = &id

	bayRef, zoneRef := bay.ID, bay.ZoneID
	sensor.Type = types.SensorTypeOccupancy
	sensor.BayID = &bayRef
	sensor.ZoneID = &zoneRef
	sensor.SiteID = nullIfEmpty(bay.SiteID)
	if sensor.InstalledAt == nil {
		now := time.Now()
		sensor.InstalledAt = &now
	}

	cp := *sensor
	return &cp, nil
}

func (m *MemoryStore) ListSensors(ctx context.Context, tenantID string) ([]types.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sensors []types.Sensor
	for _, s := range m.sensors {
		if s.TenantID == tenantID {
			sensors = append(sensors, *s)
		}
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].DeviceID < sensors[j].DeviceID })
	return sensors, nil
}

func (m *MemoryStore) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for _, s := range m.sensors {
		seen[s.TenantID] = struct{}{}
	}
	for _, z := range m.zones {
		seen[z.TenantID] = struct{}{}
	}

	tenants := make([]string, 0, len(seen))
	for id := range seen {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (m *MemoryStore) EnsureGateway(ctx context.Context, tenantID, gatewayID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	gw, ok := m.gateways[key(tenantID, gatewayID)]
	if !ok {
		gw = &types.Gateway{ID: gatewayID, TenantID: tenantID, CreatedAt: time.Now()}
		m.gateways[key(tenantID, gatewayID)] = gw
	}
	if gw.LastSeen == nil || seenAt.After(*gw.LastSeen) {
		t := seenAt
		gw.LastSeen = &t
	}
	return nil
}

// Gateway returns a provisioned gateway
func (m *MemoryStore) Gateway(tenantID, gatewayID string) (*types.Gateway, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gw, ok := m.gateways[key(tenantID, gatewayID)]
	if !ok {
		return nil, false
	}
	cp := *gw
	return &cp, true
}

func (m *MemoryStore) InsertEvent(ctx context.Context, event *types.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta, dup := m.eventKeys[event.Key]; dup {
		event.ID = meta.id
		event.AppliedAt = copyTime(meta.appliedAt)
		return false, nil
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.InsertedAt.IsZero() {
		event.InsertedAt = time.Now()
	}
	m.eventKeys[event.Key] = &eventMeta{id: event.ID, appliedAt: copyTime(event.AppliedAt)}

	// Keep per-sensor history sorted by timestamp
	history := m.events[event.SensorID]
	i := sort.Search(len(history), func(i int) bool { return history[i].Timestamp.After(event.Timestamp) })
	history = append(history, types.Event{})
	copy(history[i+1:], history[i:])
	history[i] = *event
	m.events[event.SensorID] = history

	return true, nil
}

func (m *MemoryStore) MarkEventApplied(ctx context.Context, tenantID string, eventID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, meta := range m.eventKeys {
		if k.TenantID != tenantID || meta.id != eventID {
			continue
		}
		if meta.appliedAt == nil {
			meta.appliedAt = &at
		}
		return nil
	}
	return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (m *MemoryStore) ListEvents(ctx context.Context, tenantID string, sensorID uuid.UUID, since time.Time, limit int) ([]types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.events[sensorID]
	start := sort.Search(len(history), func(i int) bool { return !history[i].Timestamp.Before(since) })
	window := history[start:]

	if n := limitOrDefault(limit); len(window) > n {
		window = window[len(window)-n:]
	}

	out := make([]types.Event, 0, len(window))
	for _, ev := range window {
		if ev.Key.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// EventCount returns the number of stored events
func (m *MemoryStore) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.eventKeys)
}

func (m *MemoryStore) InsertDeadLetter(ctx context.Context, dl *types.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dl.RowIndex > 0 {
		k := deadLetterKey{tenantID: dl.TenantID, source: dl.Source, rowIndex: dl.RowIndex}
		if _, dup := m.deadLetterRows[k]; dup {
			return nil
		}
		m.deadLetterRows[k] = struct{}{}
	}

	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	m.deadLetters = append(m.deadLetters, *dl)
	return nil
}

func (m *MemoryStore) CountDeadLetters(ctx context.Context, tenantID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, dl := range m.deadLetters {
		if dl.TenantID == tenantID && !dl.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) PutZone(ctx context.Context, zone *types.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.zones[key(zone.TenantID, zone.ID)]; ok {
		existing.SiteID = zone.SiteID
		existing.Name = zone.Name
		existing.HourlyRate = zone.HourlyRate
		return nil
	}
	cp := *zone
	m.zones[key(zone.TenantID, zone.ID)] = &cp
	return nil
}

func (m *MemoryStore) PutBay(ctx context.Context, bay *types.Bay) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.bays[key(bay.TenantID, bay.ID)]; ok {
		existing.ZoneID = bay.ZoneID
		existing.SiteID = bay.SiteID
		existing.Geometry = bay.Geometry
		return nil
	}
	cp := *bay
	if cp.Status == "" {
		cp.Status = types.BayUnknown
	}
	if (cp.Status == types.BayOccupied) != (cp.OccupiedSince != nil) {
		return fmt.Errorf("bay %s: occupied_since must be set if and only if occupied", bay.ID)
	}
	m.bays[key(bay.TenantID, bay.ID)] = &cp
	return nil
}

func (m *MemoryStore) GetZone(ctx context.Context, tenantID, zoneID string) (*types.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone, ok := m.zones[key(tenantID, zoneID)]
	if !ok {
		return nil, fmt.Errorf("%w: zone %s", ErrNotFound, zoneID)
	}
	cp := *zone
	return &cp, nil
}

func (m *MemoryStore) GetBay(ctx context.Context, tenantID, bayID string) (*types.Bay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bay, ok := m.bays[key(tenantID, bayID)]
	if !ok {
		return nil, fmt.Errorf("%w: bay %s", ErrNotFound, bayID)
	}
	cp := *bay
	return &cp, nil
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, tr Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bay, ok := m.bays[key(tr.TenantID, tr.BayID)]
	if !ok || bay.Status != tr.ExpectedStatus {
		return ErrStaleStatus
	}

	var zone *types.Zone
	if tr.ZoneDelta != 0 {
		if zone, ok = m.zones[key(tr.TenantID, tr.ZoneID)]; !ok {
			return fmt.Errorf("%w: zone %s", ErrNotFound, tr.ZoneID)
		}
	}

	bay.Status = tr.NewStatus
	bay.OccupiedSince = tr.OccupiedSince
	if bay.LastHeartbeat == nil || tr.Heartbeat.After(*bay.LastHeartbeat) {
		hb := tr.Heartbeat
		bay.LastHeartbeat = &hb
	}
	if tr.Record != nil {
		m.records = append(m.records, *tr.Record)
	}
	if zone != nil {
		zone.OccupiedBays += tr.ZoneDelta
	}
	return nil
}

func (m *MemoryStore) TouchBayHeartbeat(ctx context.Context, tenantID, bayID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bay, ok := m.bays[key(tenantID, bayID)]
	if !ok {
		return fmt.Errorf("%w: bay %s", ErrNotFound, bayID)
	}
	if bay.LastHeartbeat == nil || at.After(*bay.LastHeartbeat) {
		hb := at
		bay.LastHeartbeat = &hb
	}
	return nil
}

func (m *MemoryStore) ReconcileZone(ctx context.Context, tenantID, zoneID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone, ok := m.zones[key(tenantID, zoneID)]
	if !ok {
		return 0, fmt.Errorf("%w: zone %s", ErrNotFound, zoneID)
	}

	occupied := 0
	for _, bay := range m.bays {
		if bay.TenantID == tenantID && bay.ZoneID == zoneID && bay.Status == types.BayOccupied {
			occupied++
		}
	}
	zone.OccupiedBays = occupied
	return occupied, nil
}

func (m *MemoryStore) ListBayReadings(ctx context.Context, tenantID, zoneID string) ([]BayReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var readings []BayReading
	for _, bay := range m.bays {
		if bay.TenantID != tenantID || (zoneID != "" && bay.ZoneID != zoneID) {
			continue
		}

		reading := BayReading{Bay: *bay}
		if bay.SensorID != nil {
			if sensor, ok := m.sensors[*bay.SensorID]; ok {
				cp := *sensor
				reading.Sensor = &cp
				if history := m.events[sensor.ID]; len(history) > 0 {
					latest := history[len(history)-1]
					reading.Latest = &latest
				}
			}
		}
		readings = append(readings, reading)
	}

	sort.Slice(readings, func(i, j int) bool { return readings[i].Bay.ID < readings[j].Bay.ID })
	return readings, nil
}

func (m *MemoryStore) ListOccupancyRecords(ctx context.Context, tenantID, bayID string, limit int) ([]types.OccupancyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []types.OccupancyRecord
	for i := len(m.records) - 1; i >= 0 && len(records) < limitOrDefault(limit); i-- {
		if r := m.records[i]; r.TenantID == tenantID && r.BayID == bayID {
			records = append(records, r)
		}
	}
	return records, nil
}

func (m *MemoryStore) GetTenantThresholds(ctx context.Context, tenantID string) (map[string]float64, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.thresholds[tenantID]
	if !ok {
		return nil, 0, false, nil
	}
	values := make(map[string]float64, len(row.values))
	for k, v := range row.values {
		values[k] = v
	}
	return values, row.version, true, nil
}

func (m *MemoryStore) PutTenantThresholds(ctx context.Context, tenantID string, values map[string]float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make(map[string]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	row := m.thresholds[tenantID]
	row.values = cp
	row.version++
	m.thresholds[tenantID] = row
	return row.version, nil
}

func (m *MemoryStore) OpenOrRefreshAlert(ctx context.Context, alert *types.Alert) (*AlertUpsert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := alertKey{tenantID: alert.TenantID, entity: alert.Entity, alertType: alert.Type}

	if id, ok := m.activeAlerts[k]; ok {
		existing := m.alerts[id]
		escalated := alert.Severity.MoreSevere(existing.Severity)
		if escalated {
			existing.Severity = alert.Severity
		}
		if alert.LastDetectedAt.After(existing.LastDetectedAt) {
			existing.LastDetectedAt = alert.LastDetectedAt
		}
		existing.Title = alert.Title
		existing.Message = alert.Message
		return &AlertUpsert{Alert: *existing, Escalated: escalated}, nil
	}

	stored := *alert
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Status = types.AlertOpen
	stored.FirstDetectedAt = alert.LastDetectedAt
	m.alerts[stored.ID] = &stored
	m.activeAlerts[k] = stored.ID

	return &AlertUpsert{Alert: stored, Created: true}, nil
}

func (m *MemoryStore) ResolveActiveAlert(ctx context.Context, tenantID string, entity types.EntityRef, alertType types.AlertType, actor string, at time.Time) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := alertKey{tenantID: tenantID, entity: entity, alertType: alertType}
	id, ok := m.activeAlerts[k]
	if !ok {
		return nil, nil
	}

	alert := m.alerts[id]
	m.resolveLocked(alert, actor, at)
	cp := *alert
	return &cp, nil
}

func (m *MemoryStore) resolveLocked(alert *types.Alert, actor string, at time.Time) {
	by, when := actor, at
	alert.Status = types.AlertResolved
	alert.ResolvedAt = &when
	alert.ResolvedBy = &by
	delete(m.activeAlerts, alertKey{tenantID: alert.TenantID, entity: alert.Entity, alertType: alert.Type})
}

func (m *MemoryStore) AcknowledgeAlert(ctx context.Context, tenantID string, id uuid.UUID, actor string, at time.Time) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok || alert.TenantID != tenantID {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	if alert.Status != types.AlertOpen {
		return nil, fmt.Errorf("%w: alert %s is %s", ErrConflict, id, alert.Status)
	}

	by, when := actor, at
	alert.Status = types.AlertAcknowledged
	alert.AcknowledgedAt = &when
	alert.AcknowledgedBy = &by
	cp := *alert
	return &cp, nil
}

func (m *MemoryStore) ResolveAlert(ctx context.Context, tenantID string, id uuid.UUID, actor string, at time.Time) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok || alert.TenantID != tenantID {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	if !alert.Status.Active() {
		return nil, fmt.Errorf("%w: alert %s is %s", ErrConflict, id, alert.Status)
	}

	m.resolveLocked(alert, actor, at)
	cp := *alert
	return &cp, nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, tenantID string, id uuid.UUID) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok || alert.TenantID != tenantID {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	cp := *alert
	return &cp, nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[types.AlertStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		wanted[st] = true
	}

	var alerts []types.Alert
	for _, a := range m.alerts {
		if a.TenantID != filter.TenantID {
			continue
		}
		if len(wanted) > 0 && !wanted[a.Status] {
			continue
		}
		alerts = append(alerts, *a)
	}

	types.SortAlerts(alerts)
	if n := limitOrDefault(filter.Limit); len(alerts) > n {
		alerts = alerts[:n]
	}
	return alerts, nil
}
