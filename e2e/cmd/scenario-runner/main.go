package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/saaga0h/parkwatch/e2e/internal/checker"
	"github.com/saaga0h/parkwatch/e2e/internal/executor"
	"github.com/saaga0h/parkwatch/e2e/internal/reporter"
	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
	"github.com/saaga0h/parkwatch/pkg/config"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
	"github.com/saaga0h/parkwatch/pkg/postgres"
)

func main() {
	// Broker and database settings come from the shared PARKWATCH_ config
	cfg := config.NewConfig()
	cfg.ServiceName = "parkwatch-scenario-runner"
	cfg.LoadFromEnv()

	scenarioPath := pflag.String("scenario", "", "Path to YAML scenario file (required)")
	apiURL := pflag.String("api-url", "http://localhost:3002", "Base URL of the agent's read API")
	outputDir := pflag.String("output-dir", "./test-output", "Directory for timelines, captures and summaries")
	timeScale := pflag.Int("time-scale", 60, "Scenario seconds per wall-clock second")
	postgresCheck := pflag.Bool("postgres-check", false, "Connect to Postgres for postgres expectations")
	cfg.LoadFromFlags()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --scenario is required")
		pflag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	scen, err := scenario.LoadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load scenario: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()

	// Player and observer share one client; a per-run id keeps its session apart from the agent's
	cfg.MQTTClientID = fmt.Sprintf("%s-%d", cfg.ServiceName, os.Getpid())
	client := mqtt.NewClient(cfg, logger)
	if err := client.Connect(connectCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	var pgChecker *checker.PostgresChecker
	if *postgresCheck {
		pg := postgres.NewClient(cfg, logger)
		if err := pg.Connect(connectCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
			os.Exit(1)
		}
		defer pg.Disconnect()
		pgChecker = checker.NewPostgresChecker(pg, logger)
	}

	observer := executor.NewObserver(client, logger)
	runner := executor.NewRunner(
		executor.NewPlayer(client, logger),
		observer,
		checker.NewAPIChecker(*apiURL),
		pgChecker,
		*timeScale,
		logger,
	)

	result, timeline, err := runner.Run(ctx, scen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scenario execution failed: %v\n", err)
		os.Exit(1)
	}

	name := strings.TrimSuffix(filepath.Base(*scenarioPath), filepath.Ext(*scenarioPath))

	report := reporter.GenerateTimeline(result, timeline)
	fmt.Println(report)

	if err := reporter.SaveTimeline(report, filepath.Join(*outputDir, "timelines", name+".txt")); err != nil {
		logger.Warn("Failed to save timeline", "error", err)
	}
	if err := observer.SaveCapture(filepath.Join(*outputDir, "captures", name+".json")); err != nil {
		logger.Warn("Failed to save capture", "error", err)
	}
	if err := reporter.SaveSummary(result, filepath.Join(*outputDir, "summaries", name+".json")); err != nil {
		logger.Warn("Failed to save summary", "error", err)
	}

	if !result.Passed {
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
