// Package gateway moves money between user wallets and a mobile money
// provider. Deposits credit the ledger only after the provider accepts the
// collection; withdrawals debit first and are reversed if the payout fails.
package gateway

import (
	"context"
	"fmt"
	"strings"
)

// PayoutStatus is the provider's view of a payout.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutConfirmed PayoutStatus = "CONFIRMED"
	PayoutFailed    PayoutStatus = "FAILED"
)

// ParsePayoutStatus accepts the provider's status strings case-insensitively.
func ParsePayoutStatus(s string) (PayoutStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "PROCESSING":
		return PayoutPending, nil
	case "CONFIRMED", "SUCCESS", "COMPLETED":
		return PayoutConfirmed, nil
	case "FAILED", "REJECTED", "CANCELLED":
		return PayoutFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// CollectionRequest asks the provider to pull money from a customer.
type CollectionRequest struct {
	Reference string
	UserID    string
	Amount    int64
	Phone     string
}

// CollectionResult is a completed collection.
type CollectionResult struct {
	ProviderRef string
}

// PayoutRequest asks the provider to send money to a customer.
type PayoutRequest struct {
	Reference string
	UserID    string
	Amount    int64
	Phone     string
}

// Provider is a mobile money backend.
type Provider interface {
	// InitiateCollection returns once the collection succeeded or failed.
	InitiateCollection(ctx context.Context, req CollectionRequest) (*CollectionResult, error)
	// InitiatePayout returns the provider's id for a payout that will be
	// confirmed later, by callback or by PayoutStatus.
	InitiatePayout(ctx context.Context, req PayoutRequest) (string, error)
	PayoutStatus(ctx context.Context, pendingID string) (PayoutStatus, error)
}
