package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tikiti/tikiti/internal/events"
	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/metrics"
	"github.com/tikiti/tikiti/internal/model"
)

// SettlerConfig controls how a sold out round pays out.
type SettlerConfig struct {
	// HouseFeeBPS is the share of the pot kept by the house, in basis points.
	HouseFeeBPS int
	// Beacon is an optional public value mixed into every draw.
	Beacon string
}

// DefaultSettlerConfig keeps 10% of the pot.
func DefaultSettlerConfig() SettlerConfig {
	return SettlerConfig{HouseFeeBPS: 1000}
}

// Settler draws the winner of a sold out round and pays them.
type Settler struct {
	store    Store
	ledger   *ledger.Ledger
	manager  *Manager
	events   EventPublisher
	recorder metrics.Recorder
	logger   *slog.Logger
	cfg      SettlerConfig
	now      func() time.Time

	mu sync.Mutex
}

// NewSettler creates a Settler.
func NewSettler(store Store, l *ledger.Ledger, manager *Manager, publisher EventPublisher, recorder metrics.Recorder, cfg SettlerConfig, logger *slog.Logger) (*Settler, error) {
	if cfg.HouseFeeBPS < 0 || cfg.HouseFeeBPS >= 10000 {
		return nil, fmt.Errorf("%w: house fee must be in [0, 10000) bps", ErrInvalidConfig)
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		store:    store,
		ledger:   l,
		manager:  manager,
		events:   publisher,
		recorder: recorder,
		logger:   logger.With("component", "lottery.settler"),
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Split divides a pot into the house fee and the winner's payout.
func Split(pot int64, feeBPS int) (fee, payout int64) {
	fee = pot * int64(feeBPS) / 10000
	return fee, pot - fee
}

// PayoutKey is the ledger idempotency key of a round's prize credit.
func PayoutKey(roundID int64) string {
	return "payout:round:" + strconv.FormatInt(roundID, 10)
}

// Settle runs the draw for roundID, credits the winner, records the outcome,
// closes the round and opens the next one. Settling a round that already has
// a record returns that record and changes nothing.
func (s *Settler) Settle(ctx context.Context, roundID int64) (*model.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetSettlement(ctx, roundID)
	if err == nil {
		// A crash between recording and closing leaves the round SETTLING.
		if pool, perr := s.manager.Pool(roundID); perr == nil && pool.Snapshot().Status == model.RoundSettling {
			return existing, s.finish(ctx, pool, existing)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrSettlementNotFound) {
		return nil, fmt.Errorf("load settlement: %w", err)
	}

	pool, err := s.manager.Pool(roundID)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", roundID, ErrRoundNotFound)
	}
	round := pool.Snapshot()
	if round.Status != model.RoundSettling {
		return nil, fmt.Errorf("round %d is %s: %w", roundID, round.Status, ErrRoundNotOpen)
	}

	number, err := Pick(round.Seed, round.ID, s.cfg.Beacon, round.Capacity)
	if err != nil {
		return nil, fmt.Errorf("draw: %w", err)
	}
	winner, ok := pool.Owner(number)
	if !ok {
		return nil, &InvariantError{RoundID: round.ID, Sold: round.Sold, Capacity: round.Capacity}
	}

	pot := round.Pot()
	fee, payout := Split(pot, s.cfg.HouseFeeBPS)

	id := round.ID
	tx, err := s.ledger.Credit(ctx, ledger.Entry{
		UserID:         winner,
		Amount:         payout,
		Kind:           model.KindPayout,
		RoundID:        &id,
		IdempotencyKey: PayoutKey(id),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateRequest) {
		return nil, fmt.Errorf("credit payout: %w", err)
	}

	rec := &model.SettlementRecord{
		RoundID:        id,
		WinnerID:       winner,
		WinningNumber:  number,
		Capacity:       round.Capacity,
		Pot:            pot,
		Fee:            fee,
		Payout:         payout,
		Seed:           round.Seed,
		SeedCommitment: round.SeedCommitment,
		Beacon:         s.cfg.Beacon,
		TransactionID:  tx.ID,
		SettledAt:      s.now().UTC(),
	}
	if err := s.store.SaveSettlement(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			return s.store.GetSettlement(ctx, roundID)
		}
		return nil, fmt.Errorf("save settlement: %w", err)
	}

	s.recorder.IncRoundSettled()
	s.recorder.ObservePayout(payout)
	s.logger.Info("round_settled",
		"round_id", id,
		"winning_number", number,
		"winner_id", winner,
		"pot", pot,
		"fee", fee,
		"payout", payout,
	)
	if s.events != nil {
		s.events.PublishAsync(events.RoundEvent{
			Type:           events.TypeRoundSettled,
			RoundID:        id,
			Seed:           rec.Seed,
			SeedCommitment: rec.SeedCommitment,
			WinningNumber:  number,
			WinnerID:       winner,
			Payout:         payout,
			OccurredAt:     rec.SettledAt.UnixMilli(),
		})
	}

	return rec, s.finish(ctx, pool, rec)
}

func (s *Settler) finish(ctx context.Context, pool *Pool, rec *model.SettlementRecord) error {
	closed := pool.close(rec.Seed, rec.SettledAt)
	if err := s.store.UpdateRound(ctx, &closed); err != nil {
		return fmt.Errorf("close round: %w", err)
	}
	if _, err := s.manager.openNext(ctx, rec.RoundID); err != nil {
		return fmt.Errorf("open next round: %w", err)
	}
	return nil
}
