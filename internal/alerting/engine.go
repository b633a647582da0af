package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/thresholds"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/metrics"
)

// SystemActor is recorded on alerts resolved because their condition cleared
const SystemActor = "system"

var (
	// ErrInvalidTransition is returned when an operator action does not
	// apply to the alert's current status
	ErrInvalidTransition = errors.New("alerting: invalid status transition")
	// ErrMissingActor is returned when an operator action carries no actor
	ErrMissingActor = errors.New("alerting: actor is required")
)

// Change describes what happened to an alert
type Change string

const (
	ChangeOpened    Change = "opened"
	ChangeRefreshed Change = "refreshed"
	ChangeEscalated Change = "escalated"
	ChangeResolved  Change = "resolved"
)

// Notifier receives alert lifecycle changes worth publishing
type Notifier interface {
	AlertChanged(ctx context.Context, alert *types.Alert, change Change) error
}

// Engine opens, refreshes, escalates and resolves alerts
type Engine struct {
	store      store.Store
	thresholds *thresholds.Resolver
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates an alert engine. notifier and m may be nil.
func NewEngine(s store.Store, resolver *thresholds.Resolver, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:      s,
		thresholds: resolver,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Raise opens a new alert or refreshes the active one for the same
// (tenant, entity, type). Refreshing never lowers severity and never moves
// the SLA deadline.
func (e *Engine) Raise(ctx context.Context, tenantID string, entity types.EntityRef, b Breach, at time.Time, th thresholds.Thresholds) (*store.AlertUpsert, error) {
	alert := &types.Alert{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Type:            b.Type,
		Severity:        b.Severity,
		Status:          types.AlertOpen,
		Title:           b.Title,
		Message:         b.Message,
		Entity:          entity,
		FirstDetectedAt: at,
		LastDetectedAt:  at,
		SLADueAt:        at.Add(th.SLA(b.Severity)),
	}

	res, err := e.store.OpenOrRefreshAlert(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert %s for %s/%s: %w", b.Type, entity.Kind, entity.ID, err)
	}

	change := ChangeRefreshed
	switch {
	case res.Created:
		change = ChangeOpened
		e.logger.Info("Alert opened",
			"tenant", tenantID,
			"type", b.Type,
			"severity", res.Alert.Severity,
			"entity", entity.ID,
			"sla_due_at", res.Alert.SLADueAt)
	case res.Escalated:
		change = ChangeEscalated
		e.logger.Warn("Alert escalated",
			"tenant", tenantID,
			"type", b.Type,
			"severity", res.Alert.Severity,
			"entity", entity.ID)
	default:
		e.logger.Debug("Alert refreshed", "tenant", tenantID, "type", b.Type, "entity", entity.ID)
	}

	e.metrics.ObserveAlert(string(b.Type), string(change))
	if change != ChangeRefreshed {
		e.notify(ctx, &res.Alert, change)
	}
	return res, nil
}

// Clear resolves the active alert for the key, if any, as the system actor
func (e *Engine) Clear(ctx context.Context, tenantID string, entity types.EntityRef, alertType types.AlertType, at time.Time) (*types.Alert, error) {
	alert, err := e.store.ResolveActiveAlert(ctx, tenantID, entity, alertType, SystemActor, at)
	if err != nil {
		return nil, fmt.Errorf("failed to clear alert %s for %s/%s: %w", alertType, entity.Kind, entity.ID, err)
	}
	if alert == nil {
		return nil, nil
	}

	e.logger.Info("Alert resolved", "tenant", tenantID, "type", alertType, "entity", entity.ID, "actor", SystemActor)
	e.metrics.ObserveAlert(string(alertType), string(ChangeResolved))
	e.notify(ctx, alert, ChangeResolved)
	return alert, nil
}

// Apply raises or clears according to a verdict. An unevaluated verdict
// leaves any active alert untouched.
func (e *Engine) Apply(ctx context.Context, tenantID string, entity types.EntityRef, alertType types.AlertType, v Verdict, at time.Time, th thresholds.Thresholds) error {
	if !v.Evaluated {
		return nil
	}
	if v.Breach != nil {
		_, err := e.Raise(ctx, tenantID, entity, *v.Breach, at, th)
		return err
	}
	_, err := e.Clear(ctx, tenantID, entity, alertType, at)
	return err
}

// CheckBattery evaluates a freshly ingested battery reading
func (e *Engine) CheckBattery(ctx context.Context, tenantID string, sensor *types.Sensor, batteryPct *float64, at time.Time) error {
	if batteryPct == nil {
		return nil
	}
	th := e.thresholds.Resolve(ctx, tenantID)
	entity := SensorEntity(sensor)
	return e.Apply(ctx, tenantID, entity, types.AlertLowBattery, LowBattery(sensor.DeviceID, batteryPct, th), at, th)
}

// Acknowledge marks an OPEN alert as seen by an operator
func (e *Engine) Acknowledge(ctx context.Context, tenantID string, id uuid.UUID, actor string) (*types.Alert, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}

	alert, err := e.store.AcknowledgeAlert(ctx, tenantID, id, actor, e.now())
	if err != nil {
		return nil, e.operatorError("acknowledge", id, err)
	}

	e.logger.Info("Alert acknowledged", "tenant", tenantID, "alert_id", id, "actor", actor)
	return alert, nil
}

// Resolve closes an active alert on behalf of an operator
func (e *Engine) Resolve(ctx context.Context, tenantID string, id uuid.UUID, actor string) (*types.Alert, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}

	alert, err := e.store.ResolveAlert(ctx, tenantID, id, actor, e.now())
	if err != nil {
		return nil, e.operatorError("resolve", id, err)
	}

	e.logger.Info("Alert resolved", "tenant", tenantID, "alert_id", id, "actor", actor)
	e.metrics.ObserveAlert(string(alert.Type), string(ChangeResolved))
	e.notify(ctx, alert, ChangeResolved)
	return alert, nil
}

func (e *Engine) operatorError(action string, id uuid.UUID, err error) error {
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: cannot %s alert %s", ErrInvalidTransition, action, id)
	}
	return fmt.Errorf("failed to %s alert %s: %w", action, id, err)
}

// List returns a tenant's alerts, critical first then most recent first
func (e *Engine) List(ctx context.Context, tenantID string, statuses []types.AlertStatus, limit int) ([]types.Alert, error) {
	alerts, err := e.store.ListAlerts(ctx, store.AlertFilter{
		TenantID: tenantID,
		Statuses: statuses,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	types.SortAlerts(alerts)
	return alerts, nil
}

func (e *Engine) notify(ctx context.Context, alert *types.Alert, change Change) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.AlertChanged(ctx, alert, change); err != nil {
		e.logger.Warn("Failed to publish alert change",
			"tenant", alert.TenantID,
			"alert_id", alert.ID,
			"change", change,
			"error", err)
	}
}

// SensorEntity is the alert entity for a sensor, keyed by its device id
func SensorEntity(sensor *types.Sensor) types.EntityRef {
	return types.EntityRef{Kind: types.EntitySensor, ID: sensor.DeviceID}
}

// TenantEntity is the alert entity for tenant-wide conditions
func TenantEntity(tenantID string) types.EntityRef {
	return types.EntityRef{Kind: types.EntityTenant, ID: tenantID}
}
