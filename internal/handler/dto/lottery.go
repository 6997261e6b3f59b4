package dto

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tikiti/tikiti/internal/events"
	"github.com/tikiti/tikiti/internal/lottery"
	"github.com/tikiti/tikiti/internal/model"
)

// BuyTicketsRequest represents the request body for buying tickets.
type BuyTicketsRequest struct {
	Quantity int   `json:"quantity"`
	RoundID  int64 `json:"roundId,omitempty"`
}

// BindForm implements FormBinder.
func (r *BuyTicketsRequest) BindForm(values url.Values) error {
	q, err := formInt(values, "quantity")
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	round, err := formInt(values, "roundId")
	if err != nil {
		return fmt.Errorf("roundId: %w", err)
	}
	r.Quantity = int(q)
	r.RoundID = round
	return nil
}

// BuyTicketsResponse is the single answer to a purchase. When the purchase
// sold the last ticket it also carries the settlement of the round.
type BuyTicketsResponse struct {
	Success       bool                `json:"success"`
	Message       string              `json:"message"`
	RoundID       int64               `json:"roundId"`
	Requested     int                 `json:"requested"`
	Granted       int                 `json:"granted"`
	TicketNumbers []int               `json:"ticketNumbers"`
	Amount        int64               `json:"amount"`
	NewBalance    int64               `json:"newBalance"`
	GameCompleted bool                `json:"gameCompleted"`
	Settlement    *SettlementResponse `json:"settlement,omitempty"`
}

// StatusResponse describes the current round.
type StatusResponse struct {
	RoundID          int64               `json:"roundId"`
	Status           string              `json:"status"`
	TicketsSold      int                 `json:"ticketsSold"`
	TotalTickets     int                 `json:"totalTickets"`
	TicketsAvailable int                 `json:"ticketsAvailable"`
	TicketPrice      int64               `json:"ticketPrice"`
	PrizePool        int64               `json:"prizePool"`
	SeedCommitment   string              `json:"seedCommitment"`
	UserTickets      []int               `json:"userTickets"`
	LastSettlement   *SettlementResponse `json:"lastSettlement,omitempty"`
}

// SettlementResponse is the audit view of a settled round. Anyone can
// recompute the winning number from Seed, RoundID, Beacon and Capacity.
type SettlementResponse struct {
	RoundID        int64     `json:"roundId"`
	WinnerID       string    `json:"winnerId"`
	WinningNumber  int       `json:"winningNumber"`
	Capacity       int       `json:"capacity"`
	Pot            int64     `json:"pot"`
	Fee            int64     `json:"fee"`
	Payout         int64     `json:"payout"`
	Seed           string    `json:"seed"`
	SeedCommitment string    `json:"seedCommitment"`
	Beacon         string    `json:"beacon,omitempty"`
	Verified       bool      `json:"verified"`
	SettledAt      time.Time `json:"settledAt"`
}

// WinnersResponse lists recent winners, newest first.
type WinnersResponse struct {
	Data []events.Winner `json:"data"`
}

// ToSettlementResponse converts a SettlementRecord, checking its draw.
func ToSettlementResponse(rec *model.SettlementRecord) *SettlementResponse {
	if rec == nil {
		return nil
	}
	return &SettlementResponse{
		RoundID:        rec.RoundID,
		WinnerID:       rec.WinnerID,
		WinningNumber:  rec.WinningNumber,
		Capacity:       rec.Capacity,
		Pot:            rec.Pot,
		Fee:            rec.Fee,
		Payout:         rec.Payout,
		Seed:           rec.Seed,
		SeedCommitment: rec.SeedCommitment,
		Beacon:         rec.Beacon,
		Verified:       lottery.Verify(rec) == nil,
		SettledAt:      rec.SettledAt,
	}
}

// ToStatusResponse converts an engine Status.
func ToStatusResponse(s *lottery.Status) *StatusResponse {
	userTickets := s.UserTickets
	if userTickets == nil {
		userTickets = []int{}
	}
	return &StatusResponse{
		RoundID:          s.Round.ID,
		Status:           string(s.Round.Status),
		TicketsSold:      s.Round.Sold,
		TotalTickets:     s.Round.Capacity,
		TicketsAvailable: s.Round.Remaining(),
		TicketPrice:      s.Round.Price,
		PrizePool:        int64(s.Round.Sold) * s.Round.Price,
		SeedCommitment:   s.Round.SeedCommitment,
		UserTickets:      userTickets,
		LastSettlement:   ToSettlementResponse(s.LastSettlement),
	}
}

// ToBuyTicketsResponse converts a PurchaseResult.
func ToBuyTicketsResponse(res *lottery.PurchaseResult) *BuyTicketsResponse {
	p := res.Purchase
	out := &BuyTicketsResponse{
		Success:       true,
		RoundID:       p.RoundID,
		Requested:     p.Requested,
		Granted:       p.Granted,
		TicketNumbers: p.TicketNumbers,
		Amount:        p.Amount,
		NewBalance:    res.Balance,
		GameCompleted: res.GameCompleted,
		Settlement:    ToSettlementResponse(res.Settlement),
	}

	switch {
	case res.Settlement != nil:
		out.Message = fmt.Sprintf("Round %d complete! Winning ticket #%d", res.Settlement.RoundID, res.Settlement.WinningNumber)
	case res.GameCompleted:
		out.Message = fmt.Sprintf("Round %d sold out; the draw is pending", p.RoundID)
	case p.Granted < p.Requested:
		out.Message = fmt.Sprintf("Only %d of %d tickets were available", p.Granted, p.Requested)
	default:
		out.Message = "Tickets purchased successfully"
	}
	return out
}
