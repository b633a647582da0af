package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/types"
)

// InsertEvent appends an event. It returns false, without error, when the
// (tenant, source, sequence) key already exists, after loading the stored
// row's id and applied_at into event.
func (s *PostgresStore) InsertEvent(ctx context.Context, event *types.Event) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.InsertedAt.IsZero() {
		event.InsertedAt = time.Now()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if event.Payload == nil {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO events (
			id, tenant_id, source, sequence, sensor_id, device_id, ts,
			payload, rssi, snr, battery_pct, gateway_id, inserted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, source, sequence) DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err = s.db().QueryRowContext(ctx, query,
		event.ID,
		event.Key.TenantID,
		event.Key.Source,
		event.Key.Sequence,
		event.SensorID,
		event.DeviceID,
		event.Timestamp,
		payload,
		event.RSSI,
		event.SNR,
		event.BatteryPct,
		event.GatewayID,
		event.InsertedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		err = s.db().QueryRowContext(ctx,
			`SELECT id, applied_at FROM events WHERE tenant_id = $1 AND source = $2 AND sequence = $3`,
			event.Key.TenantID, event.Key.Source, event.Key.Sequence,
		).Scan(&event.ID, &event.AppliedAt)
		if err != nil {
			return false, fmt.Errorf("failed to load existing event: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
	return true, nil
}

// MarkEventApplied records that an event has been driven through the bay
// state machine. The first mark wins.
func (s *PostgresStore) MarkEventApplied(ctx context.Context, tenantID string, eventID uuid.UUID, at time.Time) error {
	_, err := s.db().ExecContext(ctx,
		`UPDATE events SET applied_at = $3 WHERE tenant_id = $1 AND id = $2 AND applied_at IS NULL`,
		tenantID, eventID, at)
	if err != nil {
		return fmt.Errorf("failed to mark event %s applied: %w", eventID, err)
	}
	return nil
}

// ListEvents returns up to limit of the most recent events of a sensor at
// or after since, in ascending time order
func (s *PostgresStore) ListEvents(ctx context.Context, tenantID string, sensorID uuid.UUID, since time.Time, limit int) ([]types.Event, error) {
	query := `
		SELECT id, tenant_id, source, sequence, sensor_id, device_id, ts,
			payload, rssi, snr, battery_pct, gateway_id, inserted_at
		FROM (
			SELECT * FROM events
			WHERE tenant_id = $1 AND sensor_id = $2 AND ts >= $3
			ORDER BY ts DESC
			LIMIT $4
		) recent
		ORDER BY ts ASC
	`

	rows, err := s.db().QueryContext(ctx, query, tenantID, sensorID, since, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var payload []byte

		if err := rows.Scan(
			&ev.ID,
			&ev.Key.TenantID,
			&ev.Key.Source,
			&ev.Key.Sequence,
			&ev.SensorID,
			&ev.DeviceID,
			&ev.Timestamp,
			&payload,
			&ev.RSSI,
			&ev.SNR,
			&ev.BatteryPct,
			&ev.GatewayID,
			&ev.InsertedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// InsertDeadLetter records a rejected reading. Replaying a batch does not
// record its invalid rows twice.
func (s *PostgresStore) InsertDeadLetter(ctx context.Context, dl *types.DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO dead_letters (id, tenant_id, source, row_index, reason, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, source, row_index) WHERE row_index > 0 DO NOTHING
	`

	if _, err := s.db().ExecContext(ctx, query,
		dl.ID, dl.TenantID, dl.Source, dl.RowIndex, dl.Reason, dl.Raw, dl.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// CountDeadLetters counts a tenant's dead letters created at or after since
func (s *PostgresStore) CountDeadLetters(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.db().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}
