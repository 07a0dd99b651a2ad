package task

import (
	"context"
	"log/slog"
	"time"
)

// Default staleness sweep settings.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultStaleAfter    = 5 * time.Minute
)

// Sweeper periodically clears edit locks held past the staleness threshold.
type Sweeper struct {
	svc        *Service
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. Non-positive durations fall back to the defaults.
func NewSweeper(svc *Service, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = svc.logger
	}
	return &Sweeper{svc: svc, interval: interval, staleAfter: staleAfter, logger: logger}
}

// Run sweeps on every tick until ctx is done. Errors are logged and the sweep
// is retried on the next tick.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.tick(ctx)
		}
	}
}

func (sw *Sweeper) tick(ctx context.Context) {
	cleared, err := sw.svc.SweepStale(ctx, sw.svc.now(), sw.staleAfter)
	if err != nil {
		sw.logger.Warn("stale lock sweep failed", "error", err)
	}
	if cleared > 0 {
		sw.logger.Info("cleared stale edit locks", "count", cleared)
	}
}
