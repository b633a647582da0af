package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/saaga0h/parkwatch/pkg/mqtt"
	"github.com/saaga0h/parkwatch/pkg/postgres"
	"github.com/saaga0h/parkwatch/pkg/redis"
)

const detailedCheckTimeout = 2 * time.Second

// Checker provides health check functionality for the agent
type Checker struct {
	mqtt     mqtt.Client
	redis    redis.Client
	postgres postgres.Client
	logger   *slog.Logger
}

// NewChecker creates a new health checker; any dependency may be nil when
// the process runs without it (memory store, replay CLI)
func NewChecker(mqttClient mqtt.Client, redisClient redis.Client, pgClient postgres.Client, logger *slog.Logger) *Checker {
	return &Checker{
		mqtt:     mqttClient,
		redis:    redisClient,
		postgres: pgClient,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Services  *Services `json:"services,omitempty"`
}

// Services represents the status of external dependencies
type Services struct {
	Redis    string `json:"redis"`
	MQTT     string `json:"mqtt"`
	Postgres string `json:"postgres"`

	PostgresPool *postgres.PoolStats `json:"postgres_pool,omitempty"`
}

// HandlerFunc returns 200 whenever the process is alive
func (h *Checker) HandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// DetailedHandlerFunc returns a handler that checks all dependencies
func (h *Checker) DetailedHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), detailedCheckTimeout)
		defer cancel()

		services := &Services{
			Redis:    "disabled",
			MQTT:     "disabled",
			Postgres: "disabled",
		}

		if h.mqtt != nil {
			services.MQTT = "disconnected"
			if h.mqtt.IsConnected() {
				services.MQTT = "connected"
			}
		}

		if h.redis != nil {
			services.Redis = "connected"
			if err := h.redis.Ping(ctx); err != nil {
				services.Redis = "disconnected"
			}
		}

		if h.postgres != nil {
			services.Postgres = "disconnected"
			if status, err := h.postgres.HealthCheck(ctx); err == nil && status.Connected {
				services.Postgres = "connected"
				services.PostgresPool = status.Pool
			}
		}

		status := "healthy"
		statusCode := http.StatusOK
		if services.Redis == "disconnected" || services.MQTT == "disconnected" || services.Postgres == "disconnected" {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		h.write(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Services:  services,
		})
	}
}

func (h *Checker) write(w http.ResponseWriter, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}
