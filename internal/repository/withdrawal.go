package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tikiti/tikiti/internal/gateway"
	"github.com/tikiti/tikiti/internal/model"
)

// WithdrawalStore implements gateway.Store on PostgreSQL.
type WithdrawalStore struct {
	repo *Repository
}

// NewWithdrawalStore creates a WithdrawalStore.
func NewWithdrawalStore(repo *Repository) *WithdrawalStore {
	return &WithdrawalStore{repo: repo}
}

var _ gateway.Store = (*WithdrawalStore)(nil)

const withdrawalColumns = `id, user_id, amount, destination, idempotency_key, COALESCE(provider_ref, ''), status, attempts, next_check_at, failure_reason, transaction_id, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var (
		w      model.Withdrawal
		status string
	)
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Amount,
		&w.Destination,
		&w.IdempotencyKey,
		&w.ProviderRef,
		&status,
		&w.Attempts,
		&w.NextCheckAt,
		&w.FailureReason,
		&w.TransactionID,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = model.WithdrawalStatus(status)
	return &w, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateWithdrawal inserts a withdrawal.
func (s *WithdrawalStore) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	_, err := s.repo.pool.Exec(ctx, `
		INSERT INTO withdrawals (id, user_id, amount, destination, idempotency_key, provider_ref, status, attempts, next_check_at, failure_reason, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		w.ID,
		w.UserID,
		w.Amount,
		w.Destination,
		w.IdempotencyKey,
		nullIfEmpty(w.ProviderRef),
		string(w.Status),
		w.Attempts,
		w.NextCheckAt,
		w.FailureReason,
		w.TransactionID,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

// UpdateWithdrawal writes the mutable fields of a withdrawal.
func (s *WithdrawalStore) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	tag, err := s.repo.pool.Exec(ctx, `
		UPDATE withdrawals
		SET provider_ref = $2, status = $3, attempts = $4, next_check_at = $5, failure_reason = $6, updated_at = $7
		WHERE id = $1
	`,
		w.ID,
		nullIfEmpty(w.ProviderRef),
		string(w.Status),
		w.Attempts,
		w.NextCheckAt,
		w.FailureReason,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrWithdrawalNotFound
	}
	return nil
}

func (s *WithdrawalStore) getOne(ctx context.Context, where string, args ...interface{}) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(s.repo.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gateway.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

// GetWithdrawal retrieves a withdrawal by id.
func (s *WithdrawalStore) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return s.getOne(ctx, `id = $1`, id)
}

// FindWithdrawalByKey retrieves a withdrawal by its idempotency key.
func (s *WithdrawalStore) FindWithdrawalByKey(ctx context.Context, userID, key string) (*model.Withdrawal, error) {
	return s.getOne(ctx, `user_id = $1 AND idempotency_key = $2`, userID, key)
}

// FindWithdrawalByRef retrieves a withdrawal by the provider's payout id.
func (s *WithdrawalStore) FindWithdrawalByRef(ctx context.Context, providerRef string) (*model.Withdrawal, error) {
	return s.getOne(ctx, `provider_ref = $1`, providerRef)
}

// DueWithdrawals returns unsettled withdrawals whose next check has come.
func (s *WithdrawalStore) DueWithdrawals(ctx context.Context, now time.Time, limit int) ([]*model.Withdrawal, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status IN ('PENDING', 'FAILED') AND next_check_at <= $1
		ORDER BY created_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
