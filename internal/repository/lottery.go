package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/tikiti/tikiti/internal/lottery"
	"github.com/tikiti/tikiti/internal/model"
)

// LotteryStore implements lottery.Store on PostgreSQL.
type LotteryStore struct {
	repo *Repository
}

// NewLotteryStore creates a LotteryStore.
func NewLotteryStore(repo *Repository) *LotteryStore {
	return &LotteryStore{repo: repo}
}

var _ lottery.Store = (*LotteryStore)(nil)

const roundColumns = `id, capacity, price, sold, status, seed_commitment, seed, opened_at, closed_at`

func scanRound(row pgx.Row) (*model.Round, error) {
	var (
		r      model.Round
		status string
	)
	err := row.Scan(
		&r.ID,
		&r.Capacity,
		&r.Price,
		&r.Sold,
		&status,
		&r.SeedCommitment,
		&r.Seed,
		&r.OpenedAt,
		&r.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = model.RoundStatus(status)
	return &r, nil
}

// CreateRound inserts a new round.
func (s *LotteryStore) CreateRound(ctx context.Context, round *model.Round) error {
	_, err := s.repo.pool.Exec(ctx, `
		INSERT INTO rounds (id, capacity, price, sold, status, seed_commitment, seed, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		round.ID,
		round.Capacity,
		round.Price,
		round.Sold,
		string(round.Status),
		round.SeedCommitment,
		round.Seed,
		round.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

// UpdateRound writes the round's status and closing fields.
func (s *LotteryStore) UpdateRound(ctx context.Context, round *model.Round) error {
	tag, err := s.repo.pool.Exec(ctx, `
		UPDATE rounds
		SET status = $2, seed = $3, closed_at = $4
		WHERE id = $1
	`, round.ID, string(round.Status), round.Seed, round.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lottery.ErrRoundNotFound
	}
	return nil
}

// GetRound retrieves a round by id.
func (s *LotteryStore) GetRound(ctx context.Context, id int64) (*model.Round, error) {
	r, err := scanRound(s.repo.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lottery.ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return r, nil
}

// LatestRound retrieves the round with the highest id.
func (s *LotteryStore) LatestRound(ctx context.Context) (*model.Round, error) {
	r, err := scanRound(s.repo.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY id DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lottery.ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get latest round: %w", err)
	}
	return r, nil
}

// ListTickets returns a round's tickets ordered by number.
func (s *LotteryStore) ListTickets(ctx context.Context, roundID int64) ([]model.Ticket, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT round_id, number, user_id, purchase_id, issued_at
		FROM tickets
		WHERE round_id = $1
		ORDER BY number
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.RoundID, &t.Number, &t.UserID, &t.PurchaseID, &t.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SavePurchase stores a purchase, its tickets and the round's new sold count
// in one transaction.
func (s *LotteryStore) SavePurchase(ctx context.Context, purchase *model.Purchase, tickets []model.Ticket) error {
	numbers := make([]int64, len(purchase.TicketNumbers))
	for i, n := range purchase.TicketNumbers {
		numbers[i] = int64(n)
	}

	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO purchases (id, user_id, round_id, idempotency_key, requested, granted, amount, ticket_numbers, transaction_id, completed_round, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			purchase.ID,
			purchase.UserID,
			purchase.RoundID,
			purchase.IdempotencyKey,
			purchase.Requested,
			purchase.Granted,
			purchase.Amount,
			pq.Array(numbers),
			purchase.TransactionID,
			purchase.CompletedRound,
			purchase.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tickets (round_id, number, user_id, purchase_id, issued_at)
			SELECT $1, n, $2, $3, $4 FROM unnest($5::BIGINT[]) AS n
		`, purchase.RoundID, purchase.UserID, purchase.ID, purchase.CreatedAt, pq.Array(numbers))
		if err != nil {
			return fmt.Errorf("insert tickets: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE rounds
			SET sold = sold + $2,
			    status = CASE WHEN status = 'OPEN' AND sold + $2 >= capacity THEN 'SETTLING' ELSE status END
			WHERE id = $1
		`, purchase.RoundID, len(tickets))
		if err != nil {
			return fmt.Errorf("update round: %w", err)
		}
		return nil
	})
}

// FindPurchase retrieves a purchase by its idempotency key.
func (s *LotteryStore) FindPurchase(ctx context.Context, userID, key string) (*model.Purchase, error) {
	var (
		p       model.Purchase
		numbers []int64
	)
	err := s.repo.pool.QueryRow(ctx, `
		SELECT id, user_id, round_id, idempotency_key, requested, granted, amount, ticket_numbers, transaction_id, completed_round, created_at
		FROM purchases
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key).Scan(
		&p.ID,
		&p.UserID,
		&p.RoundID,
		&p.IdempotencyKey,
		&p.Requested,
		&p.Granted,
		&p.Amount,
		pq.Array(&numbers),
		&p.TransactionID,
		&p.CompletedRound,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lottery.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("failed to find purchase: %w", err)
	}

	p.TicketNumbers = make([]int, len(numbers))
	for i, n := range numbers {
		p.TicketNumbers[i] = int(n)
	}
	return &p, nil
}

const settlementColumns = `round_id, winner_id, winning_number, capacity, pot, fee, payout, seed, seed_commitment, beacon, transaction_id, settled_at`

func scanSettlement(row pgx.Row) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := row.Scan(
		&rec.RoundID,
		&rec.WinnerID,
		&rec.WinningNumber,
		&rec.Capacity,
		&rec.Pot,
		&rec.Fee,
		&rec.Payout,
		&rec.Seed,
		&rec.SeedCommitment,
		&rec.Beacon,
		&rec.TransactionID,
		&rec.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveSettlement inserts a settlement record. The round id is the primary
// key, so a second record for the same round is rejected.
func (s *LotteryStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	_, err := s.repo.pool.Exec(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.RoundID,
		rec.WinnerID,
		rec.WinningNumber,
		rec.Capacity,
		rec.Pot,
		rec.Fee,
		rec.Payout,
		rec.Seed,
		rec.SeedCommitment,
		rec.Beacon,
		rec.TransactionID,
		rec.SettledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return lottery.ErrAlreadySettled
		}
		return fmt.Errorf("failed to save settlement: %w", err)
	}
	return nil
}

// GetSettlement retrieves the settlement of a round.
func (s *LotteryStore) GetSettlement(ctx context.Context, roundID int64) (*model.SettlementRecord, error) {
	rec, err := scanSettlement(s.repo.pool.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE round_id = $1`, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lottery.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return rec, nil
}

// LatestSettlement retrieves the most recent settlement.
func (s *LotteryStore) LatestSettlement(ctx context.Context) (*model.SettlementRecord, error) {
	rec, err := scanSettlement(s.repo.pool.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlements ORDER BY round_id DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lottery.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to get latest settlement: %w", err)
	}
	return rec, nil
}
