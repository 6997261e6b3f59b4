// Package lottery sells numbered tickets out of fixed size rounds and settles
// each round with a verifiable draw once the last ticket is sold.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/metrics"
	"github.com/tikiti/tikiti/internal/model"
)

// ErrKeyReused is returned when an idempotency key belongs to an earlier
// purchase that was charged and then refunded.
var ErrKeyReused = errors.New("idempotency key belongs to a refunded purchase")

// PurchaseRequest asks for Quantity tickets in RoundID (0 for the current round).
type PurchaseRequest struct {
	UserID         string
	RoundID        int64
	Quantity       int
	IdempotencyKey string
}

// PurchaseResult is everything a buyer needs to know after one request.
type PurchaseResult struct {
	Purchase      *model.Purchase
	Balance       int64
	GameCompleted bool
	Settlement    *model.SettlementRecord
	Replayed      bool
}

// Status describes the current round from one user's point of view.
type Status struct {
	Round          model.Round
	UserTickets    []int
	LastSettlement *model.SettlementRecord
}

// Engine runs the purchase flow: reserve, debit, commit, then settle when the
// purchase sold the last ticket.
type Engine struct {
	manager  *Manager
	settler  *Settler
	ledger   *ledger.Ledger
	store    Store
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(manager *Manager, settler *Settler, l *ledger.Ledger, store Store, recorder metrics.Recorder, logger *slog.Logger) *Engine {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		manager:  manager,
		settler:  settler,
		ledger:   l,
		store:    store,
		recorder: recorder,
		logger:   logger.With("component", "lottery.engine"),
		now:      time.Now,
	}
}

// Start restores the current round and finishes any draw interrupted by a
// restart.
func (e *Engine) Start(ctx context.Context) error {
	pending, err := e.manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore rounds: %w", err)
	}
	if pending != nil {
		e.logger.Warn("resuming_interrupted_settlement", "round_id", pending.ID())
		if _, err := e.settler.Settle(ctx, pending.ID()); err != nil {
			return fmt.Errorf("settle round %d: %w", pending.ID(), err)
		}
	}
	return nil
}

// BuyTickets sells up to req.Quantity tickets to req.UserID. When fewer
// tickets remain than were asked for, the remainder is granted and charged.
// A repeated IdempotencyKey returns the first outcome with Replayed set.
func (e *Engine) BuyTickets(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	started := e.now()
	result, err := e.buy(ctx, req)
	e.recorder.ObservePurchaseDuration(e.now().Sub(started))
	e.recorder.IncPurchase(purchaseOutcome(result, err))
	return result, err
}

func (e *Engine) buy(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if req.IdempotencyKey == "" {
		return nil, ledger.ErrMissingKey
	}

	// A round left SETTLING by a failed draw is retried before selling.
	if current := e.manager.Current(); current != nil && current.Snapshot().Status == model.RoundSettling {
		if _, err := e.settler.Settle(ctx, current.ID()); err != nil {
			e.logger.Error("pending_settlement_failed", "round_id", current.ID(), "error", err)
		}
	}

	var (
		result    *PurchaseResult
		completed bool
		aborted   *Pool
	)
	err := e.ledger.WithUser(ctx, req.UserID, func(ctx context.Context, tx *ledger.Tx) error {
		prior, err := e.store.FindPurchase(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			result, err = e.replay(ctx, tx, prior)
			return err
		}
		if !errors.Is(err, ErrPurchaseNotFound) {
			return fmt.Errorf("lookup purchase: %w", err)
		}

		pool, err := e.manager.Pool(req.RoundID)
		if err != nil {
			return err
		}
		res, err := pool.Reserve(req.UserID, req.Quantity)
		if err != nil {
			return err
		}

		roundID := res.RoundID
		debit, err := tx.Debit(ctx, ledger.Entry{
			Amount:         res.Amount(),
			Kind:           model.KindPurchase,
			RoundID:        &roundID,
			IdempotencyKey: purchaseKey(req.IdempotencyKey),
		})
		if err != nil {
			pool.Release(res)
			if errors.Is(err, ledger.ErrDuplicateRequest) {
				return ErrKeyReused
			}
			return err
		}

		purchase := &model.Purchase{
			ID:             ulid.Make().String(),
			UserID:         req.UserID,
			RoundID:        roundID,
			IdempotencyKey: req.IdempotencyKey,
			Requested:      req.Quantity,
			Granted:        res.Granted,
			Amount:         res.Amount(),
			TransactionID:  debit.ID,
			CreatedAt:      e.now().UTC(),
		}
		// The purchase is stored before its numbers are visible in the pool,
		// so a failed write leaves no gap in the round.
		numbers, done, err := pool.Commit(res, func(numbers []int, completed bool) error {
			purchase.TicketNumbers = numbers
			purchase.CompletedRound = completed
			tickets := make([]model.Ticket, len(numbers))
			for i, n := range numbers {
				tickets[i] = model.Ticket{
					RoundID:    roundID,
					Number:     n,
					UserID:     req.UserID,
					PurchaseID: purchase.ID,
					IssuedAt:   purchase.CreatedAt,
				}
			}
			if err := e.store.SavePurchase(ctx, purchase, tickets); err != nil {
				return fmt.Errorf("save purchase: %w", err)
			}
			return nil
		})
		if err != nil {
			e.refund(ctx, tx, res, req.IdempotencyKey)
			var inv *InvariantError
			if errors.As(err, &inv) {
				e.recorder.IncInvariantViolation()
				e.logger.Error("round_invariant_violated",
					"round_id", inv.RoundID,
					"sold", inv.Sold,
					"capacity", inv.Capacity,
					"user_id", req.UserID,
				)
				aborted = pool
				return err
			}
			if !errors.Is(err, ErrRoundNotOpen) {
				e.logger.Error("purchase_persist_failed",
					"round_id", roundID,
					"user_id", req.UserID,
					"purchase_id", purchase.ID,
					"error", err,
				)
			}
			return err
		}
		completed = done

		e.recorder.AddTicketsSold(res.Granted)
		e.logger.Info("tickets_purchased",
			"round_id", roundID,
			"user_id", req.UserID,
			"requested", req.Quantity,
			"granted", res.Granted,
			"numbers", numbers,
		)

		result = &PurchaseResult{
			Purchase: purchase,
			Balance:  debit.BalanceAfter,
		}
		return nil
	})

	if aborted != nil {
		if aerr := e.manager.Abort(context.WithoutCancel(ctx), aborted); aerr != nil {
			e.logger.Error("round_abort_failed", "round_id", aborted.ID(), "error", aerr)
		}
	}
	if err != nil {
		return nil, err
	}

	if completed {
		result.GameCompleted = true
		rec, err := e.settler.Settle(context.WithoutCancel(ctx), result.Purchase.RoundID)
		if err != nil {
			e.logger.Error("settlement_failed", "round_id", result.Purchase.RoundID, "error", err)
		}
		result.Settlement = rec
		if rec != nil && rec.WinnerID == req.UserID {
			if bal, err := e.ledger.Balance(ctx, req.UserID); err == nil {
				result.Balance = bal
			}
		}
	}

	return result, nil
}

func (e *Engine) replay(ctx context.Context, tx *ledger.Tx, prior *model.Purchase) (*PurchaseResult, error) {
	balance, err := tx.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	result := &PurchaseResult{Purchase: prior, Balance: balance, Replayed: true}
	if !prior.CompletedRound {
		return result, nil
	}

	result.GameCompleted = true
	rec, err := e.store.GetSettlement(ctx, prior.RoundID)
	switch {
	case err == nil:
		result.Settlement = rec
	case !errors.Is(err, ErrSettlementNotFound):
		return nil, fmt.Errorf("load settlement: %w", err)
	}
	return result, nil
}

// refund credits back a debit whose reservation could not be committed.
func (e *Engine) refund(ctx context.Context, tx *ledger.Tx, res *Reservation, key string) {
	roundID := res.RoundID
	_, err := tx.Credit(context.WithoutCancel(ctx), ledger.Entry{
		Amount:         res.Amount(),
		Kind:           model.KindReversal,
		RoundID:        &roundID,
		IdempotencyKey: "reversal:" + purchaseKey(key),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateRequest) {
		e.logger.Error("purchase_refund_failed",
			"round_id", roundID,
			"user_id", res.UserID,
			"amount", res.Amount(),
			"error", err,
		)
		return
	}
	e.recorder.IncReversal("purchase_aborted")
}

// Status returns the current round with userID's tickets in it. userID may
// be empty for anonymous callers.
func (e *Engine) Status(ctx context.Context, userID string) (*Status, error) {
	pool := e.manager.Current()
	if pool == nil {
		return nil, ErrRoundNotOpen
	}

	status := &Status{Round: pool.Snapshot()}
	if userID != "" {
		status.UserTickets = pool.UserTickets(userID)
	}

	rec, err := e.store.LatestSettlement(ctx)
	switch {
	case err == nil:
		status.LastSettlement = rec
	case !errors.Is(err, ErrSettlementNotFound):
		return nil, fmt.Errorf("load latest settlement: %w", err)
	}
	return status, nil
}

// HasOpenRound reports whether a round is currently on sale.
func (e *Engine) HasOpenRound() bool {
	return e.manager.Current() != nil
}

// Settlement returns the audit record of a settled round.
func (e *Engine) Settlement(ctx context.Context, roundID int64) (*model.SettlementRecord, error) {
	return e.store.GetSettlement(ctx, roundID)
}

// Round returns a round by id.
func (e *Engine) Round(ctx context.Context, roundID int64) (*model.Round, error) {
	return e.manager.Round(ctx, roundID)
}

func purchaseKey(key string) string {
	return "purchase:" + key
}

func purchaseOutcome(result *PurchaseResult, err error) string {
	switch {
	case err == nil && result.Replayed:
		return "replayed"
	case err == nil:
		return "success"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrRoundNotOpen),
		errors.Is(err, ErrUserLimitReached), errors.Is(err, ErrKeyReused):
		return "rejected"
	default:
		return "error"
	}
}
