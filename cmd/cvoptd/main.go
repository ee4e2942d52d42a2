// Command cvoptd serves content-visibility page optimization and URL metric
// ingestion over HTTP, with an optional MCP server on stdio.
//
// Usage:
//
//	cvoptd -config contentvis.yaml
//	cvoptd -config contentvis.yaml -mcp      # also serve MCP on stdin/stdout
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/contentvis/cvauto"
	"github.com/hazyhaar/contentvis/detective"
	"github.com/hazyhaar/contentvis/internal/config"
	"github.com/hazyhaar/contentvis/internal/store"
	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/shield"
)

func main() {
	configPath := flag.String("config", "", "path to contentvis.yaml (defaults apply when empty)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cvoptd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	} else if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *serveMCP); err != nil {
		logger.Error("cvoptd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, serveMCP bool) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := observability.Init(st.DB); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	metrics := observability.NewMetricsManager(st.DB, cfg.Metrics.BufferSize, cfg.Metrics.FlushInterval)
	defer metrics.Close()
	audit := observability.NewAuditLogger(st.DB, cfg.Metrics.AuditBufferSize)
	defer audit.Close()
	hb := observability.NewHeartbeatWriter(st.DB, "cvoptd", cfg.Metrics.HeartbeatInterval, logger)
	hb.Start(ctx)
	defer hb.Stop()
	go retain(ctx, logger, st.DB, observability.RetentionConfig{
		MetricsDays:    cfg.Metrics.RetentionDays,
		AuditDays:      cfg.Metrics.AuditRetentionDays,
		HeartbeatsDays: cfg.Metrics.HeartbeatRetentionDays,
	})

	cv := cvauto.New(cvauto.Config{
		Store:      st,
		BaseURL:    cfg.BaseURL,
		EntryClass: cfg.Detective.EntryClass,
		Metrics:    metrics,
		Audit:      audit,
		Logger:     logger,
	})
	svc, err := detective.New(detective.Config{
		Store:       st,
		Extensions:  []detective.Extension{cv},
		Breakpoints: cfg.Detective.Breakpoints,
		SampleSize:  cfg.Detective.SampleSize,
		BaseURL:     cfg.BaseURL,
		Metrics:     metrics,
		Audit:       audit,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	lock := shield.NewStoreLock(cfg.HTTP.StoreLockTTL)
	if err := lock.Trust(cfg.HTTP.StoreLockTrusted...); err != nil {
		return err
	}
	lock.StartGC(ctx.Done())

	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(cfg.HTTP.AllowedOrigins, cfg.HTTP.MaxBody) {
		r.Use(mw)
	}
	svc.RegisterHTTP(r, lock.Middleware)

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "contentvis", Version: cvauto.Version}, nil)
		svc.RegisterMCP(srv)
		go func() {
			logger.Info("cvoptd: MCP on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("cvoptd: MCP", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("cvoptd: listening", "addr", cfg.Listen, "breakpoints", cfg.Detective.Breakpoints)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("cvoptd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// retain drops expired observability rows, once at start then daily.
func retain(ctx context.Context, logger *slog.Logger, db *sql.DB, rc observability.RetentionConfig) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		deleted, err := observability.Cleanup(ctx, db, rc)
		if err != nil {
			logger.Warn("cvoptd: observability cleanup", "error", err)
		}
		for table, n := range deleted {
			if n > 0 {
				logger.Info("cvoptd: observability cleaned", "table", table, "deleted", n)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
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
