package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"burnpaste/internal/httpserver"
	"burnpaste/internal/id"
	"burnpaste/internal/paste"
)

func main() {
	cfg := parseFlags()

	logger, err := newLogger(cfg.logLevel, cfg.logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.store, cfg.dataPath)
	if err != nil {
		logger.Error("failed opening data store", "store", cfg.store, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc, err := paste.New(paste.Options{
		Store:              store,
		IDGenerator:        id.New(0),
		Logger:             logger,
		MaxBytes:           cfg.maxBytes,
		TombstoneCacheSize: cfg.tombstoneCache,
	})
	if err != nil {
		logger.Error("failed to construct paste service", "error", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(httpserver.Config{
		Service:            svc,
		Store:              store,
		BaseURL:            cfg.baseURL,
		TrustProxy:         cfg.behindProxy,
		AllowClockOverride: cfg.allowTestClock,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("failed to construct server", "error", err)
		os.Exit(1)
	}

	httpserver.StartJanitor(ctx, store, cfg.janitorInterval, logger)

	srvHTTP := &http.Server{
		Addr:              cfg.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.addr, "store", cfg.store)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		store.Close()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

type config struct {
	addr            string
	store           string
	dataPath        string
	baseURL         string
	maxBytes        int
	behindProxy     bool
	janitorInterval time.Duration
	tombstoneCache  int
	allowTestClock  bool
	logLevel        string
	logFormat       string
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.addr, "addr", ":8080", "listen address")
	flag.StringVar(&cfg.store, "store", "bolt", "storage backend (bolt, sqlite, postgres, redis, memory)")
	flag.StringVar(&cfg.dataPath, "data", "", "file path for bolt/sqlite, DSN for postgres, URL for redis")
	flag.StringVar(&cfg.baseURL, "base-url", "", "canonical base URL for share links (optional)")
	flag.IntVar(&cfg.maxBytes, "max-bytes", paste.DefaultMaxBytes, "maximum paste size in bytes")
	flag.BoolVar(&cfg.behindProxy, "behind-proxy", false, "trust X-Forwarded-For / X-Real-IP for client addresses")
	flag.DurationVar(&cfg.janitorInterval, "janitor-interval", time.Minute, "how often expired pastes are physically deleted")
	flag.IntVar(&cfg.tombstoneCache, "tombstone-cache", 10_000, "ids of spent or expired pastes to remember (0 disables)")
	flag.BoolVar(&cfg.allowTestClock, "allow-test-clock", false, "honor the "+httpserver.TestNowHeader+" header on reads (testing only)")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "log format (text, json)")
	flag.Parse()

	if cfg.maxBytes <= 0 {
		fmt.Fprintf(os.Stderr, "max-bytes must be positive\n")
		os.Exit(2)
	}
	if cfg.tombstoneCache < 0 {
		fmt.Fprintf(os.Stderr, "tombstone-cache must not be negative\n")
		os.Exit(2)
	}
	if cfg.dataPath == "" {
		cfg.dataPath = defaultDataPath(cfg.store)
	}
	return cfg
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}
