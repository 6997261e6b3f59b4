package dto

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tikiti/tikiti/internal/model"
)

// DepositRequest represents the request body for a deposit.
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// BindForm implements FormBinder.
func (r *DepositRequest) BindForm(values url.Values) error {
	amount, err := formInt(values, "amount")
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	r.Amount = amount
	return nil
}

// WithdrawRequest represents the request body for a withdrawal. Phone
// defaults to the account's registered number.
type WithdrawRequest struct {
	Amount int64  `json:"amount"`
	Phone  string `json:"phone,omitempty"`
}

// BindForm implements FormBinder.
func (r *WithdrawRequest) BindForm(values url.Values) error {
	amount, err := formInt(values, "amount")
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	r.Amount = amount
	r.Phone = strings.TrimSpace(values.Get("phone"))
	return nil
}

// PaymentResponse answers deposits and withdrawals.
type PaymentResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	NewBalance    int64  `json:"newBalance"`
	TransactionID string `json:"transactionId,omitempty"`
	WithdrawalID  string `json:"withdrawalId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// PayoutCallback is the provider's notification about a payout.
type PayoutCallback struct {
	PendingID string `json:"pendingId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// CallbackResponse acknowledges a provider callback.
type CallbackResponse struct {
	Success      bool   `json:"success"`
	WithdrawalID string `json:"withdrawalId"`
	Status       string `json:"status"`
}

// TransactionResponse is one ledger entry.
type TransactionResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balanceAfter"`
	RoundID      *int64    `json:"roundId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TransactionListResponse lists recent ledger entries, newest first.
type TransactionListResponse struct {
	Data []TransactionResponse `json:"data"`
}

// ToTransactionListResponse converts ledger entries.
func ToTransactionListResponse(txs []*model.Transaction) *TransactionListResponse {
	out := make([]TransactionResponse, len(txs))
	for i, t := range txs {
		out[i] = TransactionResponse{
			ID:           t.ID,
			Kind:         string(t.Kind),
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			RoundID:      t.RoundID,
			CreatedAt:    t.CreatedAt,
		}
	}
	return &TransactionListResponse{Data: out}
}
