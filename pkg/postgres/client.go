package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/saaga0h/parkwatch/pkg/config"
)

const (
	connectAttempts = 5
	initialBackoff  = time.Second
	maxBackoff      = 10 * time.Second
)

// ErrNotConnected is returned by operations that need the pool before Connect
var ErrNotConnected = errors.New("postgres client not connected")

// PostgresClient holds the store's connection pool
type PostgresClient struct {
	db     *sql.DB
	config *config.Config
	logger *slog.Logger
}

// NewClient returns an unconnected client
func NewClient(cfg *config.Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresClient{
		config: cfg,
		logger: logger,
	}
}

// backoff returns the wait before retry n (1-based), doubling up to maxBackoff
func backoff(n int) time.Duration {
	d := initialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Connect opens the pool and pings it, retrying while the database comes
// up alongside the agent. The context bounds the whole attempt.
func (c *PostgresClient) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to Postgres",
		"host", c.config.PostgresHost,
		"port", c.config.PostgresPort,
		"database", c.config.PostgresDB)

	db, err := sql.Open("postgres", c.config.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(c.config.PostgresMaxConnections)
	db.SetMaxIdleConns(c.config.PostgresMaxIdleConnections)
	db.SetConnMaxLifetime(c.config.PostgresConnMaxLifetime)

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		if attempt == connectAttempts {
			break
		}

		wait := backoff(attempt)
		c.logger.Warn("Postgres not ready, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", pingErr)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			db.Close()
			return fmt.Errorf("postgres connect cancelled: %w", ctx.Err())
		}
	}
	if pingErr != nil {
		db.Close()
		return fmt.Errorf("failed to ping postgres after %d attempts: %w", connectAttempts, pingErr)
	}

	c.db = db
	c.logger.Info("Connected to Postgres",
		"max_open", c.config.PostgresMaxConnections,
		"max_idle", c.config.PostgresMaxIdleConnections)

	return nil
}

// Disconnect closes the pool; safe to call when never connected
func (c *PostgresClient) Disconnect() error {
	if c.db == nil {
		return nil
	}

	c.logger.Info("Disconnecting from Postgres", "open_connections", c.db.Stats().OpenConnections)

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close postgres connection: %w", err)
	}

	c.db = nil
	return nil
}

// DB returns the pool, nil before Connect
func (c *PostgresClient) DB() *sql.DB {
	return c.db
}

// ApplySchema runs the given DDL statements in a single transaction.
// Statements are expected to be idempotent (IF NOT EXISTS).
func (c *PostgresClient) ApplySchema(ctx context.Context, statements []string) error {
	start := time.Now()
	err := c.Transaction(ctx, func(tx *sql.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d failed: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("Schema applied", "statements", len(statements), "duration", time.Since(start))
	return nil
}

// Transaction runs fn in a transaction, committing on nil and rolling back
// otherwise. The rollback error is logged, fn's error is returned.
func (c *PostgresClient) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if c.db == nil {
		return ErrNotConnected
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Error("Rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
