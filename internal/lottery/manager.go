package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tikiti/tikiti/internal/events"
	"github.com/tikiti/tikiti/internal/model"
)

// EventPublisher receives round lifecycle events.
type EventPublisher interface {
	PublishAsync(event events.RoundEvent)
}

// Manager owns the round lifecycle. Exactly one round is current at a time;
// it is OPEN while selling and SETTLING while its draw is pending.
type Manager struct {
	store  Store
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	cfg     RoundConfig
	current *Pool
}

// NewManager creates a Manager. Call Restore before serving traffic.
func NewManager(store Store, cfg RoundConfig, publisher EventPublisher, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		events: publisher,
		logger: logger.With("component", "lottery.manager"),
		now:    time.Now,
		cfg:    cfg,
	}, nil
}

// Config returns the config the next round will be opened with.
func (m *Manager) Config() RoundConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig changes the config used for rounds opened from now on.
// The current round keeps its capacity and price.
func (m *Manager) UpdateConfig(cfg RoundConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.logger.Info("round_config_updated",
		"capacity", cfg.Capacity,
		"price", cfg.Price,
		"max_per_user", cfg.MaxTicketsPerUser,
		"max_per_purchase", cfg.MaxTicketsPerPurchase,
	)
	return nil
}

// Current returns the current round's pool, or nil before Restore.
func (m *Manager) Current() *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Pool returns the pool for roundID, where 0 means the current round.
// Any round other than the current one is not open for sale.
func (m *Manager) Pool(roundID int64) (*Pool, error) {
	current := m.Current()
	if current == nil {
		return nil, ErrRoundNotOpen
	}
	if roundID != 0 && roundID != current.ID() {
		return nil, ErrRoundNotOpen
	}
	return current, nil
}

// Round returns a round by id, answering from memory for the current one.
func (m *Manager) Round(ctx context.Context, id int64) (*model.Round, error) {
	if current := m.Current(); current != nil && current.ID() == id {
		r := current.Snapshot()
		return &r, nil
	}
	return m.store.GetRound(ctx, id)
}

// Restore loads the latest round from the store. If that round was sold out
// but never settled, its pool is returned so the caller can finish the draw.
func (m *Manager) Restore(ctx context.Context) (pending *Pool, err error) {
	latest, err := m.store.LatestRound(ctx)
	if errors.Is(err, ErrRoundNotFound) {
		_, err = m.openNext(ctx, 0)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load latest round: %w", err)
	}

	switch latest.Status {
	case model.RoundClosed, model.RoundAborted:
		_, err = m.openNext(ctx, latest.ID)
		return nil, err
	}

	tickets, err := m.store.ListTickets(ctx, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}

	pool := NewPool(*latest, m.Config(), tickets)
	round := pool.Snapshot()
	if round.Sold >= round.Capacity {
		pool.setStatus(model.RoundSettling)
	}

	m.mu.Lock()
	m.current = pool
	m.mu.Unlock()

	round = pool.Snapshot()
	m.logger.Info("round_restored",
		"round_id", round.ID,
		"status", round.Status,
		"sold", round.Sold,
		"capacity", round.Capacity,
	)

	if round.Status == model.RoundSettling {
		return pool, nil
	}
	return nil, nil
}

// openNext opens the round after prevID. If another caller already moved
// past prevID, the current pool is returned unchanged.
func (m *Manager) openNext(ctx context.Context, prevID int64) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.ID() > prevID {
		return m.current, nil
	}

	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	commitment, err := Commitment(seed)
	if err != nil {
		return nil, err
	}

	round := &model.Round{
		ID:             prevID + 1,
		Capacity:       m.cfg.Capacity,
		Price:          m.cfg.Price,
		Status:         model.RoundOpen,
		SeedCommitment: commitment,
		Seed:           seed,
		OpenedAt:       m.now().UTC(),
	}
	if err := m.store.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}

	m.current = NewPool(*round, m.cfg, nil)

	m.logger.Info("round_opened",
		"round_id", round.ID,
		"capacity", round.Capacity,
		"price", round.Price,
		"seed_commitment", commitment,
	)
	m.publish(events.RoundEvent{
		Type:           events.TypeRoundOpened,
		RoundID:        round.ID,
		Capacity:       round.Capacity,
		Price:          round.Price,
		SeedCommitment: commitment,
		OccurredAt:     round.OpenedAt.UnixMilli(),
	})
	return m.current, nil
}

// Abort marks pool's round ABORTED and opens the next one. The aborted round
// is left for an operator to inspect.
func (m *Manager) Abort(ctx context.Context, pool *Pool) error {
	pool.setStatus(model.RoundAborted)
	round := pool.Snapshot()
	now := m.now().UTC()
	round.ClosedAt = &now

	if err := m.store.UpdateRound(ctx, &round); err != nil {
		return fmt.Errorf("mark round aborted: %w", err)
	}

	m.logger.Error("round_aborted",
		"round_id", round.ID,
		"sold", round.Sold,
		"capacity", round.Capacity,
	)
	m.publish(events.RoundEvent{
		Type:       events.TypeRoundAborted,
		RoundID:    round.ID,
		OccurredAt: now.UnixMilli(),
	})

	_, err := m.openNext(ctx, round.ID)
	return err
}

func (m *Manager) publish(event events.RoundEvent) {
	if m.events != nil {
		m.events.PublishAsync(event)
	}
}
