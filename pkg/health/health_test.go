package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/pkg/mqtt"
	"github.com/saaga0h/parkwatch/pkg/postgres"
	"github.com/saaga0h/parkwatch/pkg/redis"
)

type fakeMQTT struct {
	mqtt.Client
	connected bool
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

type fakeRedis struct {
	redis.Client
	err error
}

func (f *fakeRedis) Ping(ctx context.Context) error { return f.err }

type fakePostgres struct {
	postgres.Client
	connected bool
}

func (f *fakePostgres) HealthCheck(ctx context.Context) (*postgres.HealthStatus, error) {
	return &postgres.HealthStatus{Connected: f.connected}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func detailed(t *testing.T, c *Checker) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	c.DetailedHandlerFunc()(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHandlerFunc(t *testing.T) {
	c := NewChecker(nil, nil, nil, testLogger())
	rec := httptest.NewRecorder()
	c.HandlerFunc()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestDetailedHandlerFunc(t *testing.T) {
	tests := []struct {
		name     string
		checker  *Checker
		code     int
		status   string
		services Services
	}{
		{
			name:     "memory store",
			checker:  NewChecker(&fakeMQTT{connected: true}, nil, nil, testLogger()),
			code:     http.StatusOK,
			status:   "healthy",
			services: Services{MQTT: "connected", Redis: "disabled", Postgres: "disabled"},
		},
		{
			name:     "all connected",
			checker:  NewChecker(&fakeMQTT{connected: true}, &fakeRedis{}, &fakePostgres{connected: true}, testLogger()),
			code:     http.StatusOK,
			status:   "healthy",
			services: Services{MQTT: "connected", Redis: "connected", Postgres: "connected"},
		},
		{
			name:     "redis down",
			checker:  NewChecker(&fakeMQTT{connected: true}, &fakeRedis{err: errors.New("refused")}, &fakePostgres{connected: true}, testLogger()),
			code:     http.StatusServiceUnavailable,
			status:   "degraded",
			services: Services{MQTT: "connected", Redis: "disconnected", Postgres: "connected"},
		},
		{
			name:     "broker lost",
			checker:  NewChecker(&fakeMQTT{}, nil, &fakePostgres{connected: true}, testLogger()),
			code:     http.StatusServiceUnavailable,
			status:   "degraded",
			services: Services{MQTT: "disconnected", Redis: "disabled", Postgres: "connected"},
		},
		{
			name:     "postgres down",
			checker:  NewChecker(&fakeMQTT{connected: true}, &fakeRedis{}, &fakePostgres{}, testLogger()),
			code:     http.StatusServiceUnavailable,
			status:   "degraded",
			services: Services{MQTT: "connected", Redis: "connected", Postgres: "disconnected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := detailed(t, tt.checker)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, resp.Status)
			require.NotNil(t, resp.Services)
			assert.Equal(t, tt.services, *resp.Services)
		})
	}
}
