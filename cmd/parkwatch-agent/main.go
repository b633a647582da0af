package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saaga0h/parkwatch/internal/alerting"
	"github.com/saaga0h/parkwatch/internal/api"
	"github.com/saaga0h/parkwatch/internal/bootstrap"
	"github.com/saaga0h/parkwatch/internal/classify"
	"github.com/saaga0h/parkwatch/internal/collector"
	"github.com/saaga0h/parkwatch/internal/feed"
	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/internal/occupancy"
	"github.com/saaga0h/parkwatch/internal/sensorhealth"
	"github.com/saaga0h/parkwatch/pkg/config"
	"github.com/saaga0h/parkwatch/pkg/health"
	"github.com/saaga0h/parkwatch/pkg/kafka"
	"github.com/saaga0h/parkwatch/pkg/metrics"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	// Load configuration with hierarchy: defaults → env → flags
	cfg := config.NewConfig()
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting parkwatch agent",
		"service_name", cfg.ServiceName,
		"mqtt_broker", cfg.MQTTAddress(),
		"store", cfg.StoreBackend,
		"kafka", cfg.KafkaEnabled,
		"log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := run(ctx, cancel, sigChan, cfg, logger); err != nil {
		logger.Error("Agent failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Parkwatch agent shutdown complete")
}

func run(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cfg *config.Config, logger *slog.Logger) error {
	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	defer connectCancel()

	be, err := bootstrap.OpenBackend(connectCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	if err := bootstrap.Provision(connectCtx, cfg, be.Store, logger); err != nil {
		return err
	}

	resolver, err := bootstrap.LoadThresholds(connectCtx, cfg, be.Store, logger)
	if err != nil {
		return err
	}

	tenants, err := bootstrap.LoadTenants(cfg, logger)
	if err != nil {
		return err
	}

	mqttClient := mqtt.NewClient(cfg, logger)
	if err := mqttClient.Connect(connectCtx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	defer mqttClient.Disconnect()

	var occupancyWriter, alertWriter kafka.Writer
	if cfg.KafkaEnabled {
		occupancyWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaOccupancyTopic, logger)
		alertWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
	}
	publisher := feed.NewPublisher(mqttClient, occupancyWriter, alertWriter, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing feed publisher", "error", err)
		}
	}()

	m := metrics.New()
	machine := occupancy.NewMachine(be.Store, m, logger)
	engine := alerting.NewEngine(be.Store, resolver, publisher, m, logger)
	scorer := sensorhealth.NewScorer(be.Store, resolver, cfg.MaxEventHistory, logger)

	opts := []ingest.Option{
		ingest.WithBatteryWatcher(engine),
		ingest.WithOccupancySink(publisher),
		ingest.WithMetrics(m),
	}
	if be.Guard != nil {
		opts = append(opts, ingest.WithDeliveryGuard(be.Guard))
	}
	pipeline := ingest.NewPipeline(be.Store, machine, logger, opts...)

	agent := collector.NewAgent(mqttClient, pipeline, cfg, logger)
	sweeper := alerting.NewSweeper(be.Store, engine, scorer, tenants, time.Duration(cfg.SweepIntervalSec)*time.Second, m, logger)

	apiServer := api.NewServer(api.Deps{
		Store:      be.Store,
		Tenants:    tenants,
		Classifier: classify.NewService(be.Store, resolver, logger),
		Machine:    machine,
		Scorer:     scorer,
		Alerts:     engine,
		Thresholds: resolver,
		Pipeline:   pipeline,
		Cursors:    be.Cursors,
	}, logger)

	checker := health.NewChecker(mqttClient, be.Redis, be.Postgres, logger)
	healthServer := startHealthServer(cfg.HealthPort, checker, m, logger)
	httpServer := startAPIServer(cfg.APIPort, apiServer.Handler(), logger)

	errs := make(chan error, 2)
	go func() {
		if err := agent.Start(ctx); err != nil {
			errs <- fmt.Errorf("collector: %w", err)
		}
	}()
	go func() {
		if err := sweeper.Start(ctx); err != nil {
			errs <- fmt.Errorf("sweeper: %w", err)
		}
	}()

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received (SIGTERM/SIGINT)")
	case runErr = <-errs:
	}

	logger.Info("Initiating graceful shutdown")
	cancel()

	if err := agent.Stop(); err != nil {
		logger.Error("Error stopping collector", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	for name, srv := range map[string]*http.Server{"api": httpServer, "health": healthServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP server", "server", name, "error", err)
		}
	}

	return runErr
}

func startHealthServer(port int, checker *health.Checker, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}

func startAPIServer(port int, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting API server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	return server
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
