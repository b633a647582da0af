package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/parkwatch/internal/sensorhealth"
	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/tenant"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/metrics"
)

// SweepSummary counts the work done by one sweep
type SweepSummary struct {
	Tenants int
	Sensors int
	Skipped int
	Errors  int
}

// Sweeper periodically evaluates every sensor of every tenant in scope
type Sweeper struct {
	store    store.Store
	engine   *Engine
	scorer   *sensorhealth.Scorer
	tenants  tenant.Resolver
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(s store.Store, engine *Engine, scorer *sensorhealth.Scorer, tenants tenant.Resolver, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    s,
		engine:   engine,
		scorer:   scorer,
		tenants:  tenants,
		interval: interval,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs sweeps until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting alert sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				s.logger.Error("Alert sweep failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("Alert sweeper stopped")
			return nil
		}
	}
}

// Sweep evaluates all tenants once at now. Per-sensor failures are logged
// and counted; only failing to list tenants aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepSummary, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started).Seconds()) }()

	var summary SweepSummary

	tenantIDs, err := s.store.ListTenants(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		scope, err := s.tenants.Resolve(ctx, tenantID)
		if err != nil {
			if errors.Is(err, tenant.ErrUnknownTenant) {
				s.logger.Debug("Skipping tenant outside scope", "tenant", tenantID)
				continue
			}
			s.logger.Error("Failed to resolve tenant scope", "tenant", tenantID, "error", err)
			summary.Errors++
			continue
		}

		summary.Tenants++
		s.sweepTenant(ctx, scope, now, &summary)
	}

	s.logger.Info("Alert sweep completed",
		"tenants", summary.Tenants,
		"sensors", summary.Sensors,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration", time.Since(started))

	return summary, nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, scope tenant.Scope, now time.Time, summary *SweepSummary) {
	tenantID := scope.TenantID
	th := s.engine.thresholds.Resolve(ctx, tenantID)

	sensors, err := s.store.ListSensors(ctx, tenantID)
	if err != nil {
		s.logger.Error("Failed to list sensors", "tenant", tenantID, "error", err)
		summary.Errors++
		return
	}

	for i := range sensors {
		sensor := &sensors[i]
		if !sweepable(sensor, scope) {
			summary.Skipped++
			continue
		}

		if err := s.sweepSensor(ctx, sensor, now); err != nil {
			s.logger.Error("Failed to evaluate sensor",
				"tenant", tenantID,
				"device_id", sensor.DeviceID,
				"error", err)
			summary.Errors++
			continue
		}
		summary.Sensors++
	}

	count, err := s.store.CountDeadLetters(ctx, tenantID, now.Add(-th.DeadLettersWindow()))
	if err != nil {
		s.logger.Error("Failed to count dead letters", "tenant", tenantID, "error", err)
		summary.Errors++
		return
	}
	if err := s.engine.Apply(ctx, tenantID, TenantEntity(tenantID), types.AlertDeadLetters, DeadLetters(count, th), now, th); err != nil {
		s.logger.Error("Failed to apply dead letter alert", "tenant", tenantID, "error", err)
		summary.Errors++
	}
}

func (s *Sweeper) sweepSensor(ctx context.Context, sensor *types.Sensor, now time.Time) error {
	tenantID := sensor.TenantID
	th := s.engine.thresholds.Resolve(ctx, tenantID)
	entity := SensorEntity(sensor)

	events, err := s.scorer.History(ctx, sensor, now, th)
	if err != nil {
		return err
	}
	report := sensorhealth.Evaluate(sensor, events, now, th)

	s.logger.Debug("Sensor health",
		"tenant", tenantID,
		"device_id", sensor.DeviceID,
		"score", report.Score,
		"samples", report.Inputs.Samples,
		"flaps", report.Inputs.Flaps)

	checks := []struct {
		alertType types.AlertType
		verdict   Verdict
	}{
		{types.AlertSensorOffline, Offline(sensor, now, th)},
		{types.AlertLowBattery, LowBattery(sensor.DeviceID, sensor.LastBatteryPct, th)},
		{types.AlertPoorSignal, PoorSignal(sensor.DeviceID, report.Inputs, th)},
		{types.AlertFlapping, Flapping(sensor.DeviceID, report.Inputs, th)},
	}

	for _, c := range checks {
		if err := s.engine.Apply(ctx, tenantID, entity, c.alertType, c.verdict, now, th); err != nil {
			return err
		}
	}
	return nil
}

// sweepable reports whether a sensor is active and inside the tenant scope.
// Unbound sensors are always evaluated.
func sweepable(sensor *types.Sensor, scope tenant.Scope) bool {
	if sensor.Status != "" && sensor.Status != types.SensorStatusActive {
		return false
	}
	if sensor.ZoneID != nil && !scope.AllowsZone(*sensor.ZoneID) {
		return false
	}
	if sensor.ZoneID == nil && sensor.SiteID != nil && !scope.AllowsSite(*sensor.SiteID) {
		return false
	}
	return true
}
