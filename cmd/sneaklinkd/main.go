// Command sneaklinkd is the storefront discovery daemon: cadenced discovery
// runs, the HTTP admin surface, and an optional MCP stdio transport.
//
// Configuration is environment-first (a .env file is honored):
//
//	PORT            admin HTTP port (default 8090)
//	DB_PATH         SQLite database path (default db/sneaklink.db)
//	HOSTED_SUFFIX   the platform's hosted shop domain suffix (required)
//	SOURCE_CONFIG   optional YAML file with adapter credentials/enablement,
//	                re-read at the start of every run
//	MCP_TRANSPORT   "stdio" to also serve MCP tools on stdin/stdout
//	LOG_LEVEL       debug, info, warn, error (default info)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/kelarsco/sneaklink/dbopen"
	"github.com/kelarsco/sneaklink/discovery"
	"github.com/kelarsco/sneaklink/shield"
)

func main() {
	_ = godotenv.Load()

	port := env("PORT", "8090")
	dbPath := env("DB_PATH", "db/sneaklink.db")
	hostedSuffix := env("HOSTED_SUFFIX", "")
	sourceConfig := env("SOURCE_CONFIG", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if hostedSuffix == "" {
		slog.Error("HOSTED_SUFFIX is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := discovery.Config{SourceConfigPath: sourceConfig}
	cfg.Sources.HostedSuffix = hostedSuffix
	if sourceConfig != "" {
		loaded, err := discovery.LoadSourceConfig(sourceConfig)
		if err != nil {
			slog.Error("source config", "error", err)
			os.Exit(1)
		}
		if loaded.HostedSuffix == "" {
			loaded.HostedSuffix = hostedSuffix
		}
		cfg.Sources = loaded
	}

	svc, err := discovery.New(db, cfg, logger)
	if err != nil {
		slog.Error("init service", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	for _, mw := range shield.AdminStack() {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/", svc.Routes())

	httpSrv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		slog.Info("admin HTTP listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "sneaklink",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio transport starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil {
				slog.Error("mcp transport", "error", err)
			}
		}()
	}

	// The scheduler loop blocks until the signal context cancels.
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scheduler", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	slog.Info("stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
