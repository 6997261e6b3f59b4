package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultBatchSize is the number of withdrawals checked per poll.
	DefaultBatchSize = 50
	// DefaultPollInterval is the time between polls.
	DefaultPollInterval = 30 * time.Second
)

// Sweeper resolves withdrawals the provider never called back about.
type Sweeper struct {
	adapter      *Adapter
	store        Store
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
	started      bool
}

// NewSweeper creates a Sweeper polling every pollInterval.
func NewSweeper(adapter *Adapter, store Store, pollInterval time.Duration, logger *slog.Logger) *Sweeper {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		adapter:      adapter,
		store:        store,
		logger:       logger.With("component", "gateway.sweeper"),
		batchSize:    DefaultBatchSize,
		pollInterval: pollInterval,
	}
}

// Run starts the sweep loop. Blocks until context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.started {
		return errors.New("sweeper already started")
	}
	s.started = true

	s.logger.Info("payout sweeper started", "interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("payout sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				s.logger.Error("sweep error", "error", err)
			}
		}
	}
}

// SweepOnce checks one batch of due withdrawals and returns how many it looked at.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.store.DueWithdrawals(ctx, s.adapter.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get due withdrawals: %w", err)
	}

	for _, w := range due {
		if err := s.adapter.Reconcile(ctx, w.ID); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			s.logger.Warn("reconcile failed",
				"withdrawal_id", w.ID,
				"error", err,
			)
		}
	}
	return len(due), nil
}
