package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/saaga0h/parkwatch/internal/types"
)

const alertColumns = `id, tenant_id, type, severity, status, title, message, entity_kind, entity_id,
	first_detected_at, last_detected_at, acknowledged_at, acknowledged_by,
	resolved_at, resolved_by, assigned_to, sla_due_at`

func scanAlert(row scanner, extra ...interface{}) (*types.Alert, error) {
	var a types.Alert
	dest := append([]interface{}{
		&a.ID,
		&a.TenantID,
		&a.Type,
		&a.Severity,
		&a.Status,
		&a.Title,
		&a.Message,
		&a.Entity.Kind,
		&a.Entity.ID,
		&a.FirstDetectedAt,
		&a.LastDetectedAt,
		&a.AcknowledgedAt,
		&a.AcknowledgedBy,
		&a.ResolvedAt,
		&a.ResolvedBy,
		&a.AssignedTo,
		&a.SLADueAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &a, nil
}

// OpenOrRefreshAlert inserts a new OPEN alert or, when an active alert for
// the same (tenant, entity, type) exists, refreshes it. Uniqueness is
// enforced by the partial unique index; a refresh only ever raises severity.
func (s *PostgresStore) OpenOrRefreshAlert(ctx context.Context, alert *types.Alert) (*AlertUpsert, error) {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}

	query := `
		WITH prior AS (
			SELECT severity_rank FROM alerts
			WHERE tenant_id = $2 AND entity_kind = $8 AND entity_id = $9 AND type = $3
				AND status IN ('OPEN', 'ACKNOWLEDGED')
		)
		INSERT INTO alerts (
			id, tenant_id, type, severity, severity_rank, status, title, message,
			entity_kind, entity_id, first_detected_at, last_detected_at, sla_due_at
		) VALUES ($1, $2, $3, $4, $5, 'OPEN', $6, $7, $8, $9, $10, $10, $11)
		ON CONFLICT (tenant_id, entity_kind, entity_id, type) WHERE status IN ('OPEN', 'ACKNOWLEDGED')
		DO UPDATE SET
			last_detected_at = GREATEST(alerts.last_detected_at, EXCLUDED.last_detected_at),
			severity = CASE WHEN EXCLUDED.severity_rank < alerts.severity_rank
				THEN EXCLUDED.severity ELSE alerts.severity END,
			severity_rank = LEAST(alerts.severity_rank, EXCLUDED.severity_rank),
			title = EXCLUDED.title,
			message = EXCLUDED.message
		RETURNING ` + alertColumns + `, (xmax = 0), COALESCE((SELECT severity_rank FROM prior), -1)
	`

	var created bool
	var priorRank int

	stored, err := scanAlert(s.db().QueryRowContext(ctx, query,
		alert.ID,
		alert.TenantID,
		alert.Type,
		alert.Severity,
		alert.Severity.Rank(),
		alert.Title,
		alert.Message,
		alert.Entity.Kind,
		alert.Entity.ID,
		alert.LastDetectedAt,
		alert.SLADueAt,
	), &created, &priorRank)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert alert: %w", err)
	}

	return &AlertUpsert{
		Alert:     *stored,
		Created:   created,
		Escalated: !created && priorRank >= 0 && stored.Severity.Rank() < priorRank,
	}, nil
}

// ResolveActiveAlert resolves the active alert for a key. It returns nil
// without error when no alert is active.
func (s *PostgresStore) ResolveActiveAlert(ctx context.Context, tenantID string, entity types.EntityRef, alertType types.AlertType, actor string, at time.Time) (*types.Alert, error) {
	query := `
		UPDATE alerts SET status = 'RESOLVED', resolved_at = $5, resolved_by = $6
		WHERE tenant_id = $1 AND entity_kind = $2 AND entity_id = $3 AND type = $4
			AND status IN ('OPEN', 'ACKNOWLEDGED')
		RETURNING ` + alertColumns

	alert, err := scanAlert(s.db().QueryRowContext(ctx, query,
		tenantID, entity.Kind, entity.ID, alertType, at, actor))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return alert, nil
}

// AcknowledgeAlert moves an OPEN alert to ACKNOWLEDGED
func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, tenantID string, id uuid.UUID, actor string, at time.Time) (*types.Alert, error) {
	query := `
		UPDATE alerts SET status = 'ACKNOWLEDGED', acknowledged_at = $3, acknowledged_by = $4
		WHERE tenant_id = $1 AND id = $2 AND status = ANY($5)
		RETURNING ` + alertColumns

	return s.transitionAlert(ctx, query, tenantID, id, at, actor,
		pq.Array([]string{string(types.AlertOpen)}))
}

// ResolveAlert moves an OPEN or ACKNOWLEDGED alert to RESOLVED
func (s *PostgresStore) ResolveAlert(ctx context.Context, tenantID string, id uuid.UUID, actor string, at time.Time) (*types.Alert, error) {
	query := `
		UPDATE alerts SET status = 'RESOLVED', resolved_at = $3, resolved_by = $4
		WHERE tenant_id = $1 AND id = $2 AND status = ANY($5)
		RETURNING ` + alertColumns

	return s.transitionAlert(ctx, query, tenantID, id, at, actor,
		pq.Array([]string{string(types.AlertOpen), string(types.AlertAcknowledged)}))
}

func (s *PostgresStore) transitionAlert(ctx context.Context, query, tenantID string, id uuid.UUID, at time.Time, actor string, from interface{}) (*types.Alert, error) {
	alert, err := scanAlert(s.db().QueryRowContext(ctx, query, tenantID, id, at, actor, from))
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing alert from one in the wrong state
		current, getErr := s.GetAlert(ctx, tenantID, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: alert %s is %s", ErrConflict, id, current.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	return alert, nil
}

// GetAlert retrieves an alert
func (s *PostgresStore) GetAlert(ctx context.Context, tenantID string, id uuid.UUID) (*types.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = $1 AND id = $2`

	alert, err := scanAlert(s.db().QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts ordered critical first, then most recently detected
func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE tenant_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY severity_rank ASC, last_detected_at DESC
		LIMIT $3
	`

	rows, err := s.db().QueryContext(ctx, query, filter.TenantID, pq.Array(statuses), limitOrDefault(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}
