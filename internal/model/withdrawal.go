package model

import "time"

// WithdrawalStatus tracks a payout through the provider's async confirmation.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalConfirmed WithdrawalStatus = "CONFIRMED"
	WithdrawalFailed    WithdrawalStatus = "FAILED"
	WithdrawalReversed  WithdrawalStatus = "REVERSED"
)

// IsFinal returns true once no more transitions are possible.
func (s WithdrawalStatus) IsFinal() bool {
	return s == WithdrawalConfirmed || s == WithdrawalReversed
}

// Withdrawal is a payout request to a mobile money destination.
type Withdrawal struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Amount         int64            `json:"amount"`
	Destination    string           `json:"destination"`
	IdempotencyKey string           `json:"idempotency_key"`
	ProviderRef    string           `json:"provider_ref,omitempty"`
	Status         WithdrawalStatus `json:"status"`
	Attempts       int              `json:"attempts"`
	NextCheckAt    time.Time        `json:"next_check_at"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	TransactionID  string           `json:"transaction_id"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsOverdue returns true if the withdrawal is still pending after timeout.
func (w *Withdrawal) IsOverdue(timeout time.Duration, now time.Time) bool {
	return w.Status == WithdrawalPending && now.Sub(w.CreatedAt) >= timeout
}
