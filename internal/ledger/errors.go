package ledger

import "errors"

// Sentinel errors for ledger operations.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateRequest is returned together with the transaction that was
	// recorded the first time the idempotency key was applied.
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrMissingKey       = errors.New("idempotency key is required")
	ErrNotFound         = errors.New("transaction not found")
	ErrUserNotFound     = errors.New("user not found")
)
