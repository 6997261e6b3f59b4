package ledger

import (
	"context"

	"github.com/tikiti/tikiti/internal/model"
)

// Store persists transactions and balances.
type Store interface {
	// Apply appends tx and moves the user's balance by tx.Amount in one atomic
	// step, returning the new balance. It fails with ErrInsufficientFunds if the
	// balance would go negative and with ErrDuplicateRequest if the user already
	// has a transaction with tx.IdempotencyKey.
	Apply(ctx context.Context, tx *model.Transaction) (int64, error)

	// Balance returns the user's current balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// FindByKey returns the user's transaction for an idempotency key,
	// or ErrNotFound.
	FindByKey(ctx context.Context, userID, key string) (*model.Transaction, error)

	// List returns the user's most recent transactions, newest first.
	List(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
}
