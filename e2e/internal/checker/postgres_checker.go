package checker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
	"github.com/saaga0h/parkwatch/pkg/postgres"
)

// PostgresChecker validates database state with single-value queries
type PostgresChecker struct {
	client postgres.Client
	logger *slog.Logger
}

// NewPostgresChecker wraps a connected client
func NewPostgresChecker(client postgres.Client, logger *slog.Logger) *PostgresChecker {
	return &PostgresChecker{client: client, logger: logger}
}

// Check runs the query and compares the single result value
func (p *PostgresChecker) Check(ctx context.Context, check *scenario.PostgresCheck) (bool, string, interface{}) {
	db := p.client.DB()
	if db == nil {
		return false, "postgres is not connected", nil
	}

	var result interface{}
	if err := db.QueryRowContext(ctx, check.Query).Scan(&result); err != nil {
		return false, fmt.Sprintf("query failed: %v", err), nil
	}
	if b, ok := result.([]byte); ok {
		result = string(b)
	}

	p.logger.Debug("Postgres check", "query", check.Query, "result", result, "expected", check.Expected)

	if ok, reason := MatchesExpectation(result, check.Expected); !ok {
		return false, reason, result
	}
	return true, "", result
}
