package postgres

import (
	"context"
	"time"
)

// PoolStats is the subset of sql.DBStats worth watching on a busy ingest path
type PoolStats struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration_ns"`
}

// HealthStatus represents the health of the Postgres connection
type HealthStatus struct {
	Connected bool       `json:"connected"`
	Database  string     `json:"database"`
	Latency   string     `json:"latency,omitempty"`
	Pool      *PoolStats `json:"pool,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// HealthCheck pings the pool and reports its usage. Failures are reported
// in the status, not as an error.
func (c *PostgresClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{
		Database:  c.config.PostgresDB,
		Timestamp: time.Now().UTC(),
	}

	if c.db == nil {
		status.Error = ErrNotConnected.Error()
		return status, nil
	}

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		status.Error = "ping failed: " + err.Error()
		return status, nil
	}
	status.Connected = true
	status.Latency = time.Since(start).String()

	s := c.db.Stats()
	status.Pool = &PoolStats{
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}

	return status, nil
}
