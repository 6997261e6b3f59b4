package lottery

import (
	"errors"
	"fmt"
)

// Sentinel errors for lottery operations.
var (
	ErrSoldOut            = errors.New("no tickets left in this round")
	ErrRoundNotOpen       = errors.New("round is not open")
	ErrInvalidQuantity    = errors.New("invalid ticket quantity")
	ErrUserLimitReached   = errors.New("ticket limit per user reached for this round")
	ErrRoundNotFound      = errors.New("round not found")
	ErrPurchaseNotFound   = errors.New("purchase not found")
	ErrSettlementNotFound = errors.New("settlement not found")
	ErrAlreadySettled     = errors.New("round already settled")
	ErrUnknownReservation = errors.New("unknown reservation")
	ErrCommitmentMismatch = errors.New("seed does not match published commitment")
	ErrDrawMismatch       = errors.New("winning number does not match seed")
	ErrInvalidConfig      = errors.New("invalid round config")
)

// InvariantError reports a round that sold more tickets than it holds.
// The round is aborted and needs operator attention.
type InvariantError struct {
	RoundID  int64
	Sold     int
	Capacity int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("round %d invariant violated: sold %d of %d", e.RoundID, e.Sold, e.Capacity)
}
