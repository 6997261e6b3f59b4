package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/model"
)

// LedgerStore implements ledger.Store on PostgreSQL. The balance lives on the
// users row and is moved in the same transaction that appends the entry.
type LedgerStore struct {
	repo *Repository
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(repo *Repository) *LedgerStore {
	return &LedgerStore{repo: repo}
}

var _ ledger.Store = (*LedgerStore)(nil)

// Apply implements ledger.Store.
func (s *LedgerStore) Apply(ctx context.Context, t *model.Transaction) (int64, error) {
	var balance int64
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET balance = balance + $1
			WHERE id = $2 AND balance + $1 >= 0
			RETURNING balance
		`, t.Amount, t.UserID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, t.UserID).Scan(&exists); err != nil {
				return fmt.Errorf("check user: %w", err)
			}
			if !exists {
				return ledger.ErrUserNotFound
			}
			return ledger.ErrInsufficientFunds
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (id, user_id, amount, kind, round_id, idempotency_key, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			t.ID,
			t.UserID,
			t.Amount,
			string(t.Kind),
			t.RoundID,
			t.IdempotencyKey,
			balance,
			t.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrDuplicateRequest
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance implements ledger.Store.
func (s *LedgerStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.repo.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ledger.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

const transactionColumns = `id, user_id, amount, kind, round_id, idempotency_key, balance_after, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t    model.Transaction
		kind string
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Amount,
		&kind,
		&t.RoundID,
		&t.IdempotencyKey,
		&t.BalanceAfter,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = model.TransactionKind(kind)
	return &t, nil
}

// FindByKey implements ledger.Store.
func (s *LedgerStore) FindByKey(ctx context.Context, userID, key string) (*model.Transaction, error) {
	row := s.repo.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return t, nil
}

// List implements ledger.Store.
func (s *LedgerStore) List(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Sum returns the sum of a user's transaction amounts.
func (s *LedgerStore) Sum(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.repo.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
