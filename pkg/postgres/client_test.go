package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/pkg/config"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, maxBackoff},
		{12, maxBackoff},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestUnconnectedClient(t *testing.T) {
	cfg := config.NewConfig()
	c := NewClient(cfg, nil)

	assert.Nil(t, c.DB())
	assert.NoError(t, c.Disconnect())

	err := c.Transaction(context.Background(), func(*sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)

	status, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, cfg.PostgresDB, status.Database)
	assert.Equal(t, ErrNotConnected.Error(), status.Error)
	assert.Nil(t, status.Pool)
}
