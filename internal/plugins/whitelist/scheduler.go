package whitelist

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired entries are swept.
const DefaultSweepInterval = time.Hour

// Sweeper runs WhitelistService.Sweep on a fixed interval.
type Sweeper struct {
	service  WhitelistService
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(service WhitelistService, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps once immediately so entries that expired while the process
// was down are cleaned up, then on every tick until ctx is done. Sweeps
// run on this goroutine, so Run returns only after the last one finished;
// ticks missed during a long sweep are dropped by the ticker.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("whitelist sweeper started", slog.Duration("interval", s.interval))
	s.sweep(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("whitelist sweeper stopped")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.service.Sweep(ctx); err != nil {
		s.logger.Warn("whitelist sweep failed", slog.Any("error", err))
	}
}
