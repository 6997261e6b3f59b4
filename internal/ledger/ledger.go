// Package ledger owns user balances. Every balance change is an append-only
// transaction applied atomically with the balance update, and all changes for
// one user are serialized.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tikiti/tikiti/internal/model"
)

// Entry describes a single balance movement. Amount is always positive; the
// direction comes from calling Debit or Credit.
type Entry struct {
	UserID         string
	Amount         int64
	Kind           model.TransactionKind
	RoundID        *int64
	IdempotencyKey string
}

// Ledger applies debits and credits against a Store.
type Ledger struct {
	store  Store
	locks  *KeyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger backed by store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		locks:  NewKeyedMutex(),
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// Tx is a handle for operations performed while holding a user's lock.
// It is only valid inside the WithUser callback that produced it.
type Tx struct {
	l      *Ledger
	userID string
}

// UserID returns the user the lock is held for.
func (tx *Tx) UserID() string { return tx.userID }

// Debit removes e.Amount from the locked user's balance.
func (tx *Tx) Debit(ctx context.Context, e Entry) (*model.Transaction, error) {
	e.UserID = tx.userID
	return tx.l.apply(ctx, e, true)
}

// Credit adds e.Amount to the locked user's balance.
func (tx *Tx) Credit(ctx context.Context, e Entry) (*model.Transaction, error) {
	e.UserID = tx.userID
	return tx.l.apply(ctx, e, false)
}

// Balance returns the locked user's balance.
func (tx *Tx) Balance(ctx context.Context) (int64, error) {
	return tx.l.store.Balance(ctx, tx.userID)
}

// Lookup returns the locked user's transaction for key, or ErrNotFound.
func (tx *Tx) Lookup(ctx context.Context, key string) (*model.Transaction, error) {
	return tx.l.store.FindByKey(ctx, tx.userID, key)
}

// WithUser runs fn while holding userID's exclusive lock. Operations for
// different users never wait on each other.
func (l *Ledger) WithUser(ctx context.Context, userID string, fn func(ctx context.Context, tx *Tx) error) error {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	defer unlock()

	return fn(ctx, &Tx{l: l, userID: userID})
}

// Debit removes e.Amount from e.UserID's balance. If the idempotency key was
// already applied the earlier transaction is returned with ErrDuplicateRequest.
func (l *Ledger) Debit(ctx context.Context, e Entry) (*model.Transaction, error) {
	var out *model.Transaction
	err := l.WithUser(ctx, e.UserID, func(ctx context.Context, tx *Tx) error {
		var err error
		out, err = tx.Debit(ctx, e)
		return err
	})
	return out, err
}

// Credit adds e.Amount to e.UserID's balance with the same duplicate
// semantics as Debit.
func (l *Ledger) Credit(ctx context.Context, e Entry) (*model.Transaction, error) {
	var out *model.Transaction
	err := l.WithUser(ctx, e.UserID, func(ctx context.Context, tx *Tx) error {
		var err error
		out, err = tx.Credit(ctx, e)
		return err
	})
	return out, err
}

// Balance returns a point-in-time balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Lookup returns the transaction recorded for (userID, key), or ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, userID, key string) (*model.Transaction, error) {
	return l.store.FindByKey(ctx, userID, key)
}

// History returns up to limit of the user's most recent transactions.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.List(ctx, userID, limit)
}

func (l *Ledger) apply(ctx context.Context, e Entry, debit bool) (*model.Transaction, error) {
	if e.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.IdempotencyKey == "" {
		return nil, ErrMissingKey
	}
	if !e.Kind.IsValid() {
		return nil, fmt.Errorf("invalid transaction kind %q", e.Kind)
	}

	prior, err := l.store.FindByKey(ctx, e.UserID, e.IdempotencyKey)
	if err == nil {
		return prior, ErrDuplicateRequest
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	amount := e.Amount
	if debit {
		balance, err := l.store.Balance(ctx, e.UserID)
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if balance < amount {
			return nil, ErrInsufficientFunds
		}
		amount = -amount
	}

	tx := &model.Transaction{
		ID:             ulid.Make().String(),
		UserID:         e.UserID,
		Amount:         amount,
		Kind:           e.Kind,
		RoundID:        e.RoundID,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      l.now().UTC(),
	}

	balance, err := l.store.Apply(ctx, tx)
	if err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			// Written by another process between the lookup and the insert.
			prior, lerr := l.store.FindByKey(ctx, e.UserID, e.IdempotencyKey)
			if lerr != nil {
				return nil, fmt.Errorf("load duplicate: %w", lerr)
			}
			return prior, ErrDuplicateRequest
		}
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("apply transaction: %w", err)
	}
	tx.BalanceAfter = balance

	l.logger.Debug("transaction_applied",
		"user_id", tx.UserID,
		"kind", tx.Kind,
		"amount", tx.Amount,
		"balance_after", tx.BalanceAfter,
	)
	return tx, nil
}
