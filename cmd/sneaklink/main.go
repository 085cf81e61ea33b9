// Command sneaklink is the one-shot discovery CLI.
//
// Usage:
//
//	sneaklink -db db/sneaklink.db -suffix mystorefront.shop -run fast
//	sneaklink -db db/sneaklink.db -suffix mystorefront.shop -status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/kelarsco/sneaklink/dbopen"
	"github.com/kelarsco/sneaklink/discovery"
)

func main() {
	dbPath := flag.String("db", "db/sneaklink.db", "path to the SQLite database")
	suffix := flag.String("suffix", "", "hosted shop domain suffix")
	sourceConfig := flag.String("sources", "", "path to source config YAML")
	cadence := flag.String("run", "", "execute one discovery run: fast, deep, comprehensive")
	status := flag.Bool("status", false, "print service status and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *dbPath, *suffix, *sourceConfig, *cadence, *status); err != nil {
		logger.Error("sneaklink: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dbPath, suffix, sourceConfig, cadence string, status bool) error {
	if cadence == "" && !status {
		fmt.Fprintln(os.Stderr, "usage: sneaklink -run <cadence> | -status")
		os.Exit(1)
	}

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cfg := discovery.Config{SourceConfigPath: sourceConfig}
	cfg.Sources.HostedSuffix = suffix
	if sourceConfig != "" {
		loaded, err := discovery.LoadSourceConfig(sourceConfig)
		if err != nil {
			return fmt.Errorf("source config: %w", err)
		}
		if loaded.HostedSuffix == "" {
			loaded.HostedSuffix = suffix
		}
		cfg.Sources = loaded
	}

	svc, err := discovery.New(db, cfg, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	if cadence != "" {
		if err := svc.RunOnce(ctx, cadence); err != nil {
			return fmt.Errorf("run %s: %w", cadence, err)
		}
	}

	st, err := svc.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
