package model

import "time"

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindPurchase   TransactionKind = "PURCHASE"
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
	KindPayout     TransactionKind = "PAYOUT"
	// KindReversal is a compensating credit for a debit whose effect did not happen.
	KindReversal TransactionKind = "REVERSAL"
)

// IsValid checks if the kind is one of the known kinds.
func (k TransactionKind) IsValid() bool {
	switch k {
	case KindPurchase, KindDeposit, KindWithdrawal, KindPayout, KindReversal:
		return true
	}
	return false
}

// IsDebit returns true for kinds that take money out of a wallet.
func (k TransactionKind) IsDebit() bool {
	return k == KindPurchase || k == KindWithdrawal
}

// Transaction is an append-only ledger entry. Amount is signed: debits are
// negative, credits positive. The sum of a user's amounts equals the balance.
type Transaction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         int64           `json:"amount"`
	Kind           TransactionKind `json:"kind"`
	RoundID        *int64          `json:"round_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	BalanceAfter   int64           `json:"balance_after"`
	CreatedAt      time.Time       `json:"created_at"`
}
