package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultRetentionCutoff   = 90 * 24 * time.Hour
	defaultRetentionInterval = time.Hour
)

// RetentionSweeper periodically deletes results older than the retention
// cutoff.
type RetentionSweeper struct {
	store    domain.ResultStore
	cutoff   time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionSweeper creates a retention sweeper.
func NewRetentionSweeper(cfg domain.RetentionConfig, store domain.ResultStore) *RetentionSweeper {
	cutoff := time.Duration(cfg.CutoffDays) * 24 * time.Hour
	if cutoff <= 0 {
		cutoff = defaultRetentionCutoff
	}

	interval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultRetentionInterval
	}

	return &RetentionSweeper{
		store:    store,
		cutoff:   cutoff,
		interval: interval,
		logger:   slog.Default().With("component", "retention_sweeper"),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic cleanup loop.
func (s *RetentionSweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("retention sweeper started",
			"cutoff", s.cutoff.String(),
			"interval", s.interval.String(),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.SweepOnce(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("retention sweep failed", "error", err)
				}
				if deleted > 0 {
					s.logger.Info("expired results removed", "count", deleted)
				}
			}
		}
	}()
}

// SweepOnce deletes everything validated before now minus the cutoff and
// returns the number of rows removed.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.store.CleanupBefore(ctx, time.Now().UTC().Add(-s.cutoff))
}

// Stop halts the cleanup loop and waits for it to exit.
func (s *RetentionSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
