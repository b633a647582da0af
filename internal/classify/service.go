package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/thresholds"
)

// Service classifies bays on read from stored state
type Service struct {
	store      store.Store
	thresholds *thresholds.Resolver
	logger     *slog.Logger
}

// NewService creates a classification service
func NewService(s store.Store, resolver *thresholds.Resolver, logger *slog.Logger) *Service {
	return &Service{
		store:      s,
		thresholds: resolver,
		logger:     logger,
	}
}

// ZoneSnapshot classifies every bay of a zone at now
func (s *Service) ZoneSnapshot(ctx context.Context, tenantID, zoneID string, now time.Time) (*Snapshot, error) {
	zone, err := s.store.GetZone(ctx, tenantID, zoneID)
	if err != nil {
		return nil, err
	}

	readings, err := s.store.ListBayReadings(ctx, tenantID, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bays: %w", err)
	}

	th := s.thresholds.Resolve(ctx, tenantID)

	records := make([]Record, 0, len(readings))
	for _, r := range readings {
		rec := Classify(InputFromReading(r), now, th)
		if c, ok := r.Bay.Centroid(); ok {
			lat, lng := c.Lat, c.Lng
			rec.Lat, rec.Lng = &lat, &lng
		}
		records = append(records, rec)
	}

	snap := Summarize(tenantID, zoneID, now, records)
	counter := zone.OccupiedBays
	snap.CounterOccupied = &counter

	s.logger.Debug("Classified zone",
		"tenant", tenantID,
		"zone_id", zoneID,
		"total", snap.Total,
		"occupied", snap.Occupied,
		"offline", snap.Offline,
		"unknown", snap.Unknown)

	return &snap, nil
}

// InputFromReading derives classifier input from a stored bay reading. The
// latest event wins over the sensor's cached fields.
func InputFromReading(r store.BayReading) Input {
	in := Input{BayID: r.Bay.ID}
	if r.Sensor == nil {
		return in
	}

	in.HasSensor = true
	in.LastSeen = r.Sensor.LastSeen
	in.BatteryPct = r.Sensor.LastBatteryPct

	if ev := r.Latest; ev != nil {
		ts := ev.Timestamp
		in.LastSeen = &ts
		if v, ok := ev.Occupied(); ok {
			in.Occupied = &v
		}
		if ev.BatteryPct != nil {
			in.BatteryPct = ev.BatteryPct
		}
		in.RSSI = ev.RSSI
	}
	return in
}
