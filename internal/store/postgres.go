package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/postgres"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// PostgresStore implements Store on top of the shared Postgres client
type PostgresStore struct {
	client postgres.Client
	logger *slog.Logger
}

// NewPostgresStore creates a store. The client must already be connected.
func NewPostgresStore(client postgres.Client, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		client: client,
		logger: logger,
	}
}

// Migrate applies the schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.client.ApplySchema(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) db() *sql.DB {
	return s.client.DB()
}

const sensorColumns = `id, tenant_id, device_id, type, status, last_seen, last_battery_pct,
	bay_id, zone_id, site_id, gateway_id, installed_at, created_at`

func scanSensor(row scanner) (*types.Sensor, error) {
	var sensor types.Sensor
	err := row.Scan(
		&sensor.ID,
		&sensor.TenantID,
		&sensor.DeviceID,
		&sensor.Type,
		&sensor.Status,
		&sensor.LastSeen,
		&sensor.LastBatteryPct,
		&sensor.BayID,
		&sensor.ZoneID,
		&sensor.SiteID,
		&sensor.GatewayID,
		&sensor.InstalledAt,
		&sensor.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sensor, nil
}

// EnsureSensor returns the sensor for a device id, creating an unassigned
// one if the device has never been seen. created reports which happened.
func (s *PostgresStore) EnsureSensor(ctx context.Context, tenantID, deviceID string) (*types.Sensor, bool, error) {
	return ensureSensor(ctx, s.db(), tenantID, deviceID)
}

func ensureSensor(ctx context.Context, q querier, tenantID, deviceID string) (*types.Sensor, bool, error) {
	sensor, err := getSensorByDevice(ctx, q, tenantID, deviceID)
	if err == nil {
		return sensor, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	query := `
		INSERT INTO sensors (id, tenant_id, device_id, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id, device_id) DO NOTHING
		RETURNING ` + sensorColumns

	sensor, err = scanSensor(q.QueryRowContext(ctx, query,
		uuid.New(), tenantID, deviceID, types.SensorTypeUnassigned, types.SensorStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race to a concurrent insert
		sensor, err = getSensorByDevice(ctx, q, tenantID, deviceID)
		return sensor, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create sensor: %w", err)
	}
	return sensor, true, nil
}

// GetSensor retrieves a sensor by id
func (s *PostgresStore) GetSensor(ctx context.Context, tenantID string, id uuid.UUID) (*types.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE tenant_id = $1 AND id = $2`

	sensor, err := scanSensor(s.db().QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sensor %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor: %w", err)
	}
	return sensor, nil
}

// GetSensorByDevice retrieves a sensor by its device id
func (s *PostgresStore) GetSensorByDevice(ctx context.Context, tenantID, deviceID string) (*types.Sensor, error) {
	return getSensorByDevice(ctx, s.db(), tenantID, deviceID)
}

func getSensorByDevice(ctx context.Context, q querier, tenantID, deviceID string) (*types.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE tenant_id = $1 AND device_id = $2`

	sensor, err := scanSensor(q.QueryRowContext(ctx, query, tenantID, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor: %w", err)
	}
	return sensor, nil
}

// TouchSensor advances last_seen monotonically and records battery and
// gateway only when supplied
func (s *PostgresStore) TouchSensor(ctx context.Context, sensorID uuid.UUID, seenAt time.Time, batteryPct *float64, gatewayID *string) error {
	query := `
		UPDATE sensors SET
			last_seen = GREATEST(COALESCE(last_seen, $2), $2),
			last_battery_pct = COALESCE($3, last_battery_pct),
			gateway_id = COALESCE($4, gateway_id)
		WHERE id = $1
	`

	result, err := s.db().ExecContext(ctx, query, sensorID, seenAt, batteryPct, gatewayID)
	if err != nil {
		return fmt.Errorf("failed to update sensor: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: sensor %s", ErrNotFound, sensorID)
	}
	return nil
}

// BindSensor commissions a device as the occupancy sensor of a bay,
// releasing any previous binding on either side
func (s *PostgresStore) BindSensor(ctx context.Context, tenantID, deviceID, bayID string) (*types.Sensor, error) {
	var bound *types.Sensor

	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		sensor, _, err := ensureSensor(ctx, tx, tenantID, deviceID)
		if err != nil {
			return err
		}

		bay, err := getBay(ctx, tx, tenantID, bayID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE bays SET sensor_id = NULL WHERE sensor_id = $1`, sensor.ID); err != nil {
			return fmt.Errorf("failed to release previous bay: %w", err)
		}

		if bay.SensorID != nil && *bay.SensorID != sensor.ID {
			if _, err := tx.ExecContext(ctx,
				`UPDATE sensors SET bay_id = NULL, zone_id = NULL, site_id = NULL WHERE id = $1`,
				*bay.SensorID); err != nil {
				return fmt.Errorf("failed to release previous sensor: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE bays SET sensor_id = $3 WHERE tenant_id = $1 AND id = $2`,
			tenantID, bayID, sensor.ID); err != nil {
			return fmt.Errorf("failed to bind bay: %w", err)
		}

		query := `
			UPDATE sensors SET
				type = $2, bay_id = $3, zone_id = $4, site_id = $5,
				installed_at = COALESCE(installed_at, NOW())
			WHERE id = $1
			RETURNING ` + sensorColumns

		bound, err = scanSensor(tx.QueryRowContext(ctx, query,
			sensor.ID, types.SensorTypeOccupancy, bay.ID, bay.ZoneID, nullIfEmpty(bay.SiteID)))
		if err != nil {
			return fmt.Errorf("failed to bind sensor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bound, nil
}

// ListSensors returns every sensor of a tenant ordered by device id
func (s *PostgresStore) ListSensors(ctx context.Context, tenantID string) ([]types.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE tenant_id = $1 ORDER BY device_id`

	rows, err := s.db().QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var sensors []types.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, *sensor)
	}
	return sensors, rows.Err()
}

// ListTenants returns every tenant with a sensor or zone
func (s *PostgresStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db().QueryContext(ctx,
		`SELECT tenant_id FROM sensors UNION SELECT tenant_id FROM zones ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// EnsureGateway auto-provisions a gateway and advances its last_seen
func (s *PostgresStore) EnsureGateway(ctx context.Context, tenantID, gatewayID string, seenAt time.Time) error {
	query := `
		INSERT INTO gateways (tenant_id, id, last_seen, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET last_seen = GREATEST(COALESCE(gateways.last_seen, EXCLUDED.last_seen), EXCLUDED.last_seen)
	`

	if _, err := s.db().ExecContext(ctx, query, tenantID, gatewayID, seenAt); err != nil {
		return fmt.Errorf("failed to upsert gateway: %w", err)
	}
	return nil
}

// PutZone creates or updates a zone's descriptive fields. The occupancy
// counter is left untouched on update.
func (s *PostgresStore) PutZone(ctx context.Context, zone *types.Zone) error {
	query := `
		INSERT INTO zones (tenant_id, id, site_id, name, hourly_rate, occupied_bays)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET site_id = EXCLUDED.site_id, name = EXCLUDED.name, hourly_rate = EXCLUDED.hourly_rate
	`

	if _, err := s.db().ExecContext(ctx, query,
		zone.TenantID, zone.ID, zone.SiteID, zone.Name, zone.HourlyRate, zone.OccupiedBays); err != nil {
		return fmt.Errorf("failed to upsert zone: %w", err)
	}
	return nil
}

// PutBay creates or updates a bay's layout fields. Status and sensor
// binding are only set on insert.
func (s *PostgresStore) PutBay(ctx context.Context, bay *types.Bay) error {
	var geometry []byte
	if len(bay.Geometry) > 0 {
		var err error
		if geometry, err = json.Marshal(bay.Geometry); err != nil {
			return fmt.Errorf("failed to marshal geometry: %w", err)
		}
	}

	status := bay.Status
	if status == "" {
		status = types.BayUnknown
	}

	query := `
		INSERT INTO bays (tenant_id, id, zone_id, site_id, sensor_id, status, occupied_since, last_heartbeat, geometry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET zone_id = EXCLUDED.zone_id, site_id = EXCLUDED.site_id, geometry = EXCLUDED.geometry
	`

	if _, err := s.db().ExecContext(ctx, query,
		bay.TenantID, bay.ID, bay.ZoneID, bay.SiteID, bay.SensorID,
		status, bay.OccupiedSince, bay.LastHeartbeat, geometry); err != nil {
		return fmt.Errorf("failed to upsert bay: %w", err)
	}
	return nil
}

// GetZone retrieves a zone
func (s *PostgresStore) GetZone(ctx context.Context, tenantID, zoneID string) (*types.Zone, error) {
	query := `
		SELECT tenant_id, id, site_id, name, hourly_rate, occupied_bays
		FROM zones WHERE tenant_id = $1 AND id = $2
	`

	var zone types.Zone
	err := s.db().QueryRowContext(ctx, query, tenantID, zoneID).Scan(
		&zone.TenantID,
		&zone.ID,
		&zone.SiteID,
		&zone.Name,
		&zone.HourlyRate,
		&zone.OccupiedBays,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: zone %s", ErrNotFound, zoneID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query zone: %w", err)
	}
	return &zone, nil
}

const bayColumns = `tenant_id, id, zone_id, site_id, sensor_id, status, occupied_since, last_heartbeat, geometry`

func scanBay(row scanner, extra ...interface{}) (*types.Bay, error) {
	var bay types.Bay
	var geometry []byte

	dest := append([]interface{}{
		&bay.TenantID,
		&bay.ID,
		&bay.ZoneID,
		&bay.SiteID,
		&bay.SensorID,
		&bay.Status,
		&bay.OccupiedSince,
		&bay.LastHeartbeat,
		&geometry,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if len(geometry) > 0 {
		if err := json.Unmarshal(geometry, &bay.Geometry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal geometry: %w", err)
		}
	}
	return &bay, nil
}

// GetBay retrieves a bay
func (s *PostgresStore) GetBay(ctx context.Context, tenantID, bayID string) (*types.Bay, error) {
	return getBay(ctx, s.db(), tenantID, bayID)
}

func getBay(ctx context.Context, q querier, tenantID, bayID string) (*types.Bay, error) {
	query := `SELECT ` + bayColumns + ` FROM bays WHERE tenant_id = $1 AND id = $2`

	bay, err := scanBay(q.QueryRowContext(ctx, query, tenantID, bayID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bay %s", ErrNotFound, bayID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bay: %w", err)
	}
	return bay, nil
}

// ApplyTransition writes the bay status, the occupancy record and the zone
// delta in one transaction. The zone counter is changed with an atomic
// increment, never a read-modify-write.
func (s *PostgresStore) ApplyTransition(ctx context.Context, tr Transition) error {
	return s.client.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE bays SET
				status = $3,
				occupied_since = $4,
				last_heartbeat = GREATEST(COALESCE(last_heartbeat, $5), $5)
			WHERE tenant_id = $1 AND id = $2 AND status = $6
		`, tr.TenantID, tr.BayID, tr.NewStatus, tr.OccupiedSince, tr.Heartbeat, tr.ExpectedStatus)
		if err != nil {
			return fmt.Errorf("failed to update bay: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrStaleStatus
		}

		if rec := tr.Record; rec != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO occupancy_records (id, tenant_id, kind, bay_id, zone_id, sensor_id, event_id, at, duration_minutes, revenue)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, rec.ID, rec.TenantID, rec.Kind, rec.BayID, rec.ZoneID, rec.SensorID, rec.EventID,
				rec.At, rec.DurationMinutes, rec.Revenue); err != nil {
				return fmt.Errorf("failed to insert occupancy record: %w", err)
			}
		}

		if tr.ZoneDelta != 0 {
			result, err := tx.ExecContext(ctx,
				`UPDATE zones SET occupied_bays = occupied_bays + $3 WHERE tenant_id = $1 AND id = $2`,
				tr.TenantID, tr.ZoneID, tr.ZoneDelta)
			if err != nil {
				return fmt.Errorf("failed to update zone counter: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: zone %s", ErrNotFound, tr.ZoneID)
			}
		}

		return nil
	})
}

// TouchBayHeartbeat advances the bay heartbeat without changing status
func (s *PostgresStore) TouchBayHeartbeat(ctx context.Context, tenantID, bayID string, at time.Time) error {
	result, err := s.db().ExecContext(ctx, `
		UPDATE bays SET last_heartbeat = GREATEST(COALESCE(last_heartbeat, $3), $3)
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, bayID, at)
	if err != nil {
		return fmt.Errorf("failed to update bay heartbeat: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bay %s", ErrNotFound, bayID)
	}
	return nil
}

// ReconcileZone recomputes the zone counter from bay statuses
func (s *PostgresStore) ReconcileZone(ctx context.Context, tenantID, zoneID string) (int, error) {
	query := `
		UPDATE zones z SET occupied_bays = (
			SELECT COUNT(*) FROM bays b
			WHERE b.tenant_id = z.tenant_id AND b.zone_id = z.id AND b.status = 'occupied'
		)
		WHERE z.tenant_id = $1 AND z.id = $2
		RETURNING z.occupied_bays
	`

	var occupied int
	err := s.db().QueryRowContext(ctx, query, tenantID, zoneID).Scan(&occupied)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: zone %s", ErrNotFound, zoneID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile zone: %w", err)
	}
	return occupied, nil
}

// ListBayReadings returns the bays of a zone (all tenant bays when zoneID
// is empty) with their bound sensor and its latest event
func (s *PostgresStore) ListBayReadings(ctx context.Context, tenantID, zoneID string) ([]BayReading, error) {
	query := `
		SELECT
			b.tenant_id, b.id, b.zone_id, b.site_id, b.sensor_id, b.status,
			b.occupied_since, b.last_heartbeat, b.geometry,
			s.device_id, s.type, s.status, s.last_seen, s.last_battery_pct,
			e.id, e.ts, e.payload, e.rssi, e.snr, e.battery_pct
		FROM bays b
		LEFT JOIN sensors s ON s.id = b.sensor_id
		LEFT JOIN LATERAL (
			SELECT id, ts, payload, rssi, snr, battery_pct
			FROM events
			WHERE sensor_id = s.id
			ORDER BY ts DESC
			LIMIT 1
		) e ON TRUE
		WHERE b.tenant_id = $1 AND ($2 = '' OR b.zone_id = $2)
		ORDER BY b.id
	`

	rows, err := s.db().QueryContext(ctx, query, tenantID, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bay readings: %w", err)
	}
	defer rows.Close()

	var readings []BayReading
	for rows.Next() {
		var (
			deviceID       *string
			sensorType     *string
			sensorStatus   *string
			lastSeen       *time.Time
			lastBattery    *float64
			eventID        *uuid.UUID
			eventTs        *time.Time
			payload        []byte
			rssi, snr, bat *float64
		)

		bay, err := scanBay(rows,
			&deviceID, &sensorType, &sensorStatus, &lastSeen, &lastBattery,
			&eventID, &eventTs, &payload, &rssi, &snr, &bat)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bay reading: %w", err)
		}

		reading := BayReading{Bay: *bay}

		if bay.SensorID != nil && deviceID != nil {
			reading.Sensor = &types.Sensor{
				ID:             *bay.SensorID,
				TenantID:       bay.TenantID,
				DeviceID:       *deviceID,
				Type:           types.SensorType(deref(sensorType)),
				Status:         types.SensorStatus(deref(sensorStatus)),
				LastSeen:       lastSeen,
				LastBatteryPct: lastBattery,
				BayID:          &bay.ID,
				ZoneID:         &bay.ZoneID,
			}
		}

		if eventID != nil && eventTs != nil {
			ev := &types.Event{
				ID:         *eventID,
				SensorID:   *bay.SensorID,
				DeviceID:   deref(deviceID),
				Timestamp:  *eventTs,
				RSSI:       rssi,
				SNR:        snr,
				BatteryPct: bat,
			}
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &ev.Payload); err != nil {
					return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
				}
			}
			reading.Latest = ev
		}

		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// ListOccupancyRecords returns the most recent records of a bay, newest first
func (s *PostgresStore) ListOccupancyRecords(ctx context.Context, tenantID, bayID string, limit int) ([]types.OccupancyRecord, error) {
	query := `
		SELECT id, tenant_id, kind, bay_id, zone_id, sensor_id, event_id, at, duration_minutes, revenue
		FROM occupancy_records
		WHERE tenant_id = $1 AND bay_id = $2
		ORDER BY at DESC
		LIMIT $3
	`

	rows, err := s.db().QueryContext(ctx, query, tenantID, bayID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy records: %w", err)
	}
	defer rows.Close()

	var records []types.OccupancyRecord
	for rows.Next() {
		var rec types.OccupancyRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&rec.Kind,
			&rec.BayID,
			&rec.ZoneID,
			&rec.SensorID,
			&rec.EventID,
			&rec.At,
			&rec.DurationMinutes,
			&rec.Revenue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetTenantThresholds reads the stored override map for a tenant
func (s *PostgresStore) GetTenantThresholds(ctx context.Context, tenantID string) (map[string]float64, int, bool, error) {
	var raw []byte
	var version int

	err := s.db().QueryRowContext(ctx,
		`SELECT overrides, version FROM tenant_thresholds WHERE tenant_id = $1`, tenantID).
		Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to query thresholds: %w", err)
	}

	values := make(map[string]float64)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, 0, false, fmt.Errorf("failed to unmarshal thresholds: %w", err)
	}
	return values, version, true, nil
}

// PutTenantThresholds replaces a tenant's overrides and bumps the version
func (s *PostgresStore) PutTenantThresholds(ctx context.Context, tenantID string, values map[string]float64) (int, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	query := `
		INSERT INTO tenant_thresholds (tenant_id, version, overrides, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET overrides = EXCLUDED.overrides,
			version = tenant_thresholds.version + 1,
			updated_at = NOW()
		RETURNING version
	`

	var version int
	if err := s.db().QueryRowContext(ctx, query, tenantID, raw).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to upsert thresholds: %w", err)
	}
	return version, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
