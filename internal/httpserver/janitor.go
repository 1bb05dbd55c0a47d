package httpserver

import (
	"context"
	"io"
	"log/slog"
	"time"

	"burnpaste/internal/storage"
)

// StartJanitor launches a background janitor that physically deletes expired
// pastes. Reads never depend on it; expired pastes are already hidden.
func StartJanitor(ctx context.Context, store storage.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx, store, time.Now(), logger)
			}
		}
	}()
}

func sweep(ctx context.Context, store storage.Store, now time.Time, logger *slog.Logger) int {
	c, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	removed, err := store.DeleteExpired(c, now.UTC())
	if err != nil {
		logger.Error("janitor sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		logger.Info("janitor removed expired pastes", "count", removed)
	}
	return removed
}
