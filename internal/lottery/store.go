package lottery

import (
	"context"

	"github.com/tikiti/tikiti/internal/model"
)

// Store persists rounds, tickets, purchases and settlements.
type Store interface {
	CreateRound(ctx context.Context, round *model.Round) error
	// UpdateRound writes status, seed and closed_at.
	UpdateRound(ctx context.Context, round *model.Round) error
	GetRound(ctx context.Context, id int64) (*model.Round, error)
	// LatestRound returns the round with the highest id, or ErrRoundNotFound.
	LatestRound(ctx context.Context) (*model.Round, error)
	ListTickets(ctx context.Context, roundID int64) ([]model.Ticket, error)

	// SavePurchase stores the purchase with its tickets and advances the
	// round's sold counter by len(tickets), moving it to SETTLING once full.
	SavePurchase(ctx context.Context, purchase *model.Purchase, tickets []model.Ticket) error
	// FindPurchase returns ErrPurchaseNotFound if the key is unused.
	FindPurchase(ctx context.Context, userID, key string) (*model.Purchase, error)

	// SaveSettlement fails with ErrAlreadySettled if the round has a record.
	SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error
	GetSettlement(ctx context.Context, roundID int64) (*model.SettlementRecord, error)
	LatestSettlement(ctx context.Context) (*model.SettlementRecord, error)
}
