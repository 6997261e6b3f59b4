package gateway

import "errors"

// Sentinel errors for payment operations.
var (
	ErrPaymentFailed      = errors.New("payment failed")
	ErrInvalidPhone       = errors.New("phone must be in the format 254XXXXXXXXX")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrKeyReused          = errors.New("idempotency key belongs to an earlier failed request")
	ErrUnknownStatus      = errors.New("unknown payout status")

	// ErrReplayWindowExceeded is returned when a callback timestamp is too old or too far ahead.
	ErrReplayWindowExceeded = errors.New("timestamp outside replay window")
	// ErrInvalidSignature is returned when callback signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
)
