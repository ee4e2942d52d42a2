// Command cvsample seeds URL metrics for pages served by cvoptd, loading each
// page in a headless Chrome once per viewport group.
//
// Usage:
//
//	cvsample -config contentvis.yaml https://example.com/ https://example.com/blog/
//	cvsample -remote ws://127.0.0.1:9222/devtools/browser/... https://example.com/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/contentvis/internal/config"
	"github.com/hazyhaar/contentvis/sampler"
)

func main() {
	configPath := flag.String("config", "", "path to contentvis.yaml (defaults apply when empty)")
	remote := flag.String("remote", "", "WebSocket URL of a running Chrome (overrides config)")
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

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: cvsample [-config file] [-remote ws-url] <url>...")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *remote, flag.Args()); err != nil {
		logger.Error("cvsample: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, remote string, urls []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if remote != "" {
		cfg.Sampler.Remote = remote
	}

	s := sampler.New(sampler.Config{
		RemoteURL:  cfg.Sampler.Remote,
		Stealth:    cfg.Sampler.Stealth,
		Height:     cfg.Sampler.Height,
		Settle:     cfg.Sampler.Settle,
		NavTimeout: cfg.Sampler.NavTimeout,
		Logger:     logger,
	})
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	total := 0
	for _, u := range urls {
		n, err := s.Run(ctx, u, cfg.Detective.Breakpoints)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("cvsample: page failed", "url", u, "error", err)
		}
	}
	logger.Info("cvsample: done", "pages", len(urls), "stored", total)
	return nil
}
