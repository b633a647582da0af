package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/parkwatch/internal/occupancy"
	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/metrics"
	"github.com/saaga0h/parkwatch/pkg/redis"
)

// Outcome classifies what happened to one reading
type Outcome string

const (
	OutcomeAccepted  Outcome = metrics.OutcomeAccepted
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeInvalid   Outcome = metrics.OutcomeInvalid
	OutcomeUnbound   Outcome = metrics.OutcomeUnbound
	OutcomeFailed    Outcome = metrics.OutcomeFailed
)

// BatteryWatcher evaluates battery levels as readings arrive
type BatteryWatcher interface {
	CheckBattery(ctx context.Context, tenantID string, sensor *types.Sensor, batteryPct *float64, at time.Time) error
}

// OccupancySink receives ARRIVE and LEAVE records
type OccupancySink interface {
	OccupancyChanged(ctx context.Context, record *types.OccupancyRecord) error
}

// Input is one raw reading with its ingestion context. The tenant always
// comes from the transport, never from the payload.
type Input struct {
	TenantID string
	Raw      []byte
	// Live readings are keyed by device and timestamp; batch readings by
	// Source and Sequence
	Live       bool
	DeviceHint string
	// ReceivedAt stamps live dead letters; it never stands in for the
	// reading timestamp
	ReceivedAt time.Time
	Source     string
	Sequence   int64
	RowIndex   int64
}

// Result is the outcome of processing one reading
type Result struct {
	Outcome    Outcome
	Err        error
	Reading    *Reading
	Admission  *Admission
	Transition *occupancy.Result
}

// Pipeline normalizes, deduplicates and applies readings
type Pipeline struct {
	store   store.Store
	gate    *Gate
	machine *occupancy.Machine
	battery BatteryWatcher
	sink    OccupancySink
	guard   DeliveryGuard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures optional pipeline collaborators
type Option func(*Pipeline)

// WithBatteryWatcher evaluates battery alerts on ingestion
func WithBatteryWatcher(w BatteryWatcher) Option {
	return func(p *Pipeline) { p.battery = w }
}

// WithOccupancySink publishes occupancy records
func WithOccupancySink(s OccupancySink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithDeliveryGuard short-circuits live re-deliveries
func WithDeliveryGuard(g DeliveryGuard) Option {
	return func(p *Pipeline) { p.guard = g }
}

// WithMetrics counts outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(s store.Store, machine *occupancy.Machine, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   s,
		gate:    NewGate(s, logger),
		machine: machine,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one reading. Every failure is reported on the result;
// none is fatal for the caller.
func (p *Pipeline) Process(ctx context.Context, in Input) Result {
	res := p.process(ctx, in)
	p.metrics.ObserveReading(string(res.Outcome))
	return res
}

func (p *Pipeline) process(ctx context.Context, in Input) Result {
	reading, err := Decode(in.Raw, in.DeviceHint)
	if err != nil {
		return p.reject(ctx, in, err)
	}
	if len(reading.Dropped) > 0 {
		p.logger.Warn("Dropped unusable reading fields",
			"tenant", in.TenantID,
			"device_id", reading.DeviceID,
			"fields", reading.Dropped)
	}

	key := types.EventKey{TenantID: in.TenantID, Source: in.Source, Sequence: in.Sequence}
	if in.Live {
		key = LiveKey(in.TenantID, reading)
	}

	var marker string
	if in.Live && p.guard != nil {
		marker = redis.DeliveryMarkerKey(in.TenantID, reading.DeviceID, key.Sequence)
		claimed, err := p.guard.Claim(ctx, marker)
		switch {
		case err != nil:
			p.logger.Warn("Delivery marker unavailable, relying on store dedup",
				"tenant", in.TenantID, "device_id", reading.DeviceID, "error", err)
			marker = ""
		case !claimed:
			return Result{Outcome: OutcomeDuplicate, Reading: reading}
		}
	}

	res := p.apply(ctx, in.TenantID, key, reading)
	if res.Outcome == OutcomeFailed && marker != "" {
		if err := p.guard.Release(ctx, marker); err != nil {
			p.logger.Warn("Failed to release delivery marker", "key", marker, "error", err)
		}
	}
	return res
}

func (p *Pipeline) apply(ctx context.Context, tenantID string, key types.EventKey, reading *Reading) Result {
	res := Result{Reading: reading}

	adm, err := p.gate.Admit(ctx, key, reading)
	if err != nil {
		p.logger.Error("Failed to admit reading", "tenant", tenantID, "device_id", reading.DeviceID, "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Admission = adm
	if adm.Duplicate {
		res.Outcome = OutcomeDuplicate
		return res
	}

	if p.battery != nil && reading.BatteryPct != nil {
		if err := p.battery.CheckBattery(ctx, tenantID, adm.Sensor, reading.BatteryPct, reading.Timestamp); err != nil {
			p.logger.Warn("Failed to evaluate battery", "tenant", tenantID, "device_id", reading.DeviceID, "error", err)
		}
	}

	transition, err := p.machine.Apply(ctx, occupancy.Request{
		TenantID: tenantID,
		Sensor:   adm.Sensor,
		Event:    adm.Event,
		BayID:    reading.BayID,
		ZoneID:   reading.ZoneID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Debug("Reading has no bay binding", "tenant", tenantID, "device_id", reading.DeviceID, "error", err)
			p.markApplied(ctx, tenantID, adm.Event)
			res.Outcome, res.Err = OutcomeUnbound, err
			return res
		}
		p.logger.Error("Failed to apply reading to bay", "tenant", tenantID, "device_id", reading.DeviceID, "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Transition = transition
	p.markApplied(ctx, tenantID, adm.Event)

	if transition.Record != nil && p.sink != nil {
		if err := p.sink.OccupancyChanged(ctx, transition.Record); err != nil {
			p.logger.Warn("Failed to publish occupancy record",
				"tenant", tenantID, "bay_id", transition.BayID, "error", err)
		}
	}

	res.Outcome = OutcomeAccepted
	return res
}

// markApplied closes the event's retry window. A failed mark leaves the
// key retryable.
func (p *Pipeline) markApplied(ctx context.Context, tenantID string, ev *types.Event) {
	if err := p.store.MarkEventApplied(ctx, tenantID, ev.ID, time.Now().UTC()); err != nil {
		p.logger.Warn("Failed to mark event applied",
			"tenant", tenantID, "event_id", ev.ID, "device_id", ev.DeviceID, "error", err)
	}
}

func (p *Pipeline) reject(ctx context.Context, in Input, cause error) Result {
	res := Result{Outcome: OutcomeInvalid, Err: cause}

	source := in.Source
	if in.Live {
		source = LiveSourcePrefix + in.DeviceHint
	}

	dl := &types.DeadLetter{
		TenantID: in.TenantID,
		Source:   source,
		RowIndex: in.RowIndex,
		Reason:   cause.Error(),
		Raw:      string(in.Raw),
	}
	if in.Live {
		dl.CreatedAt = in.ReceivedAt
	}
	if err := p.store.InsertDeadLetter(ctx, dl); err != nil {
		p.logger.Error("Failed to store dead letter", "tenant", in.TenantID, "source", source, "error", err)
		res.Err = fmt.Errorf("%w (dead letter not stored: %v)", cause, err)
		return res
	}

	p.logger.Warn("Rejected reading",
		"tenant", in.TenantID,
		"source", source,
		"row", in.RowIndex,
		"reason", cause.Error())
	return res
}
