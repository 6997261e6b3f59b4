package model

import "time"

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundOpen     RoundStatus = "OPEN"
	RoundSettling RoundStatus = "SETTLING"
	RoundClosed   RoundStatus = "CLOSED"
	// RoundAborted marks a round whose invariants were found broken.
	// It needs operator attention and never settles.
	RoundAborted RoundStatus = "ABORTED"
)

// Round is one cycle of ticket sales from an empty pool to a full one.
type Round struct {
	ID             int64       `json:"id"`
	Capacity       int         `json:"capacity"`
	Price          int64       `json:"price"`
	Sold           int         `json:"sold"`
	Status         RoundStatus `json:"status"`
	SeedCommitment string      `json:"seed_commitment"`
	Seed           string      `json:"-"` // hex, revealed only in settlement records
	OpenedAt       time.Time   `json:"opened_at"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
}

// Pot returns the full value of the round when sold out.
func (r *Round) Pot() int64 {
	return int64(r.Capacity) * r.Price
}

// Remaining returns how many tickets are still unsold.
func (r *Round) Remaining() int {
	if r.Sold >= r.Capacity {
		return 0
	}
	return r.Capacity - r.Sold
}

// Ticket is a numbered claim on a round's pot.
type Ticket struct {
	RoundID    int64     `json:"round_id"`
	Number     int       `json:"number"`
	UserID     string    `json:"user_id"`
	PurchaseID string    `json:"purchase_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Purchase records the outcome of one buy request so retries with the same
// idempotency key can be answered without touching state again.
type Purchase struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	RoundID        int64     `json:"round_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Requested      int       `json:"requested"`
	Granted        int       `json:"granted"`
	Amount         int64     `json:"amount"`
	TicketNumbers  []int     `json:"ticket_numbers"`
	TransactionID  string    `json:"transaction_id"`
	// CompletedRound is set on the one purchase that sold the round's last ticket.
	CompletedRound bool      `json:"completed_round"`
	CreatedAt      time.Time `json:"created_at"`
}

// SettlementRecord is the outcome of a round. Exactly one exists per settled round.
type SettlementRecord struct {
	RoundID        int64     `json:"round_id"`
	WinnerID       string    `json:"winner_id"`
	WinningNumber  int       `json:"winning_number"`
	Capacity       int       `json:"capacity"`
	Pot            int64     `json:"pot"`
	Fee            int64     `json:"fee"`
	Payout         int64     `json:"payout"`
	Seed           string    `json:"seed"`
	SeedCommitment string    `json:"seed_commitment"`
	Beacon         string    `json:"beacon,omitempty"`
	TransactionID  string    `json:"transaction_id"`
	SettledAt      time.Time `json:"settled_at"`
}
