// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically deletes sessions that expired long ago.
//
// Rows are kept for a retention period after expiry so that an expired token
// is still recognized and answered with [ErrSessionExpired] instead of
// [ErrSessionNotFound].
type Janitor struct {
	sessions  SessionRepository
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewJanitor creates a [Janitor]. A nil now defaults to time.Now.
func NewJanitor(sessions SessionRepository, interval, retention time.Duration, now func() time.Time, logger *slog.Logger) *Janitor {
	if now == nil {
		now = time.Now
	}
	return &Janitor{
		sessions:  sessions,
		interval:  interval,
		retention: retention,
		now:       now,
		logger:    logger,
	}
}

// Run sweeps on every tick until ctx is cancelled. Sweep failures are logged, not returned.
func (janitor *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(janitor.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := janitor.Sweep(ctx); err != nil {
				janitor.logger.ErrorContext(ctx, "session_sweep_failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep deletes sessions that expired before now minus the retention period.
func (janitor *Janitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := janitor.now().Add(-janitor.retention)

	deleted, err := janitor.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		janitor.logger.InfoContext(ctx, "session_sweep_completed",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}

	return deleted, nil
}
