package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

// Sweeper drains publish-failed tombstones: results that were persisted
// but whose outcome event never made it onto the bus. Each pass lists a
// batch of FAILED rows, republishes them and marks them PUBLISHED.
type Sweeper struct {
	store     domain.ResultStore
	publisher *Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a republish sweeper.
func NewSweeper(cfg domain.PublisherConfig, store domain.ResultStore, pub *Publisher) *Sweeper {
	interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	return &Sweeper{
		store:     store,
		publisher: pub,
		interval:  interval,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "republish_sweeper"),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("republish sweeper started",
			"interval", s.interval.String(),
			"batch_size", s.batchSize,
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.SweepOnce(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("republish sweep failed", "error", err)
				}
				if n > 0 {
					s.logger.Info("republished failed outcomes", "count", n)
				}
			}
		}
	}()
}

// SweepOnce runs a single sweep pass and returns how many tombstones
// were successfully republished.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	failed, err := s.store.ListPublishFailed(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	republished := 0
	for _, result := range failed {
		if err := ctx.Err(); err != nil {
			return republished, err
		}

		if err := s.publisher.Publish(ctx, result); err != nil {
			s.logger.Warn("republish failed",
				"validation_id", result.ValidationID,
				"payment_id", result.PaymentID,
				"error", err,
			)
			// Keep the tombstone; bump the attempt counter.
			if err := s.store.MarkPublishFailed(ctx, result.ValidationID); err != nil {
				s.logger.Error("failed to update tombstone",
					"validation_id", result.ValidationID,
					"error", err,
				)
			}
			continue
		}

		if err := s.store.MarkPublished(ctx, result.ValidationID); err != nil {
			s.logger.Error("failed to mark result published",
				"validation_id", result.ValidationID,
				"error", err,
			)
			continue
		}
		republished++
	}

	return republished, nil
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
