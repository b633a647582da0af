package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/saaga0h/parkwatch/internal/alerting"
	"github.com/saaga0h/parkwatch/internal/bootstrap"
	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/internal/occupancy"
	"github.com/saaga0h/parkwatch/pkg/config"
)

func main() {
	cfg := config.NewConfig()
	cfg.ServiceName = "parkwatch-replay"
	cfg.LoadFromEnv()

	tenantID := pflag.String("tenant", "", "Tenant the rows belong to (required)")
	file := pflag.String("file", "", "NDJSON file of readings (required)")
	source := pflag.String("source", "", "Replay cursor name (default: file base name)")
	cfg.LoadFromFlags()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *tenantID == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "Both --tenant and --file are required")
		pflag.Usage()
		os.Exit(2)
	}
	if *source == "" {
		*source = strings.TrimSuffix(filepath.Base(*file), filepath.Ext(*file))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := replay(ctx, cfg, *tenantID, *file, *source, logger)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			logger.Error("Failed to write summary", "error", encErr)
		}
	}
	if err != nil {
		logger.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

// replay feeds one file through the same pipeline as the live collector.
// Nothing is published to the live feeds; battery alerts are still raised.
func replay(ctx context.Context, cfg *config.Config, tenantID, path, source string, logger *slog.Logger) (*ingest.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()

	be, err := bootstrap.OpenBackend(connectCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer be.Close()

	if err := bootstrap.Provision(connectCtx, cfg, be.Store, logger); err != nil {
		return nil, err
	}
	resolver, err := bootstrap.LoadThresholds(connectCtx, cfg, be.Store, logger)
	if err != nil {
		return nil, err
	}

	machine := occupancy.NewMachine(be.Store, nil, logger)
	engine := alerting.NewEngine(be.Store, resolver, nil, nil, logger)
	pipeline := ingest.NewPipeline(be.Store, machine, logger, ingest.WithBatteryWatcher(engine))

	logger.Info("Replaying readings", "tenant", tenantID, "file", path, "source", source)
	start := time.Now()

	summary, err := pipeline.ProcessBatch(ctx, tenantID, source, f, be.Cursors)

	if summary != nil {
		logger.Info("Replay finished",
			"rows", summary.Rows,
			"skipped", summary.Skipped,
			"accepted", summary.Accepted,
			"duplicate", summary.Duplicate,
			"invalid", summary.Invalid,
			"unbound", summary.Unbound,
			"cursor", summary.Cursor,
			"duration", time.Since(start))
	}
	return summary, err
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
