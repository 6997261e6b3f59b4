package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/metrics"
	"github.com/tikiti/tikiti/internal/model"
)

// Config tunes the Adapter.
type Config struct {
	// Timeout bounds every provider call.
	Timeout time.Duration
	// ConfirmTimeout is how long a payout may stay unconfirmed before it is
	// treated as failed and reversed.
	ConfirmTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Timeout: 15 * time.Second, ConfirmTimeout: 10 * time.Minute}
}

// DepositRequest asks to move Amount from the user's mobile money account
// into their wallet.
type DepositRequest struct {
	UserID         string
	Amount         int64
	Phone          string
	IdempotencyKey string
}

// DepositResult is the outcome of a deposit.
type DepositResult struct {
	Transaction *model.Transaction
	Balance     int64
	Replayed    bool
}

// WithdrawRequest asks to send Amount from the wallet to Phone.
type WithdrawRequest struct {
	UserID         string
	Amount         int64
	Phone          string
	IdempotencyKey string
}

// WithdrawResult is the outcome of a withdrawal request. The withdrawal is
// PENDING until the provider confirms it.
type WithdrawResult struct {
	Withdrawal *model.Withdrawal
	Balance    int64
	Replayed   bool
}

// Adapter keeps the ledger consistent with a Provider.
type Adapter struct {
	provider Provider
	ledger   *ledger.Ledger
	store    Store
	recorder metrics.Recorder
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewAdapter creates an Adapter.
func NewAdapter(provider Provider, l *ledger.Ledger, store Store, recorder metrics.Recorder, cfg Config, logger *slog.Logger) *Adapter {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfig().ConfirmTimeout
	}
	return &Adapter{
		provider: provider,
		ledger:   l,
		store:    store,
		recorder: recorder,
		logger:   logger.With("component", "gateway"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Deposit collects req.Amount from the provider and credits the wallet.
// Nothing is credited unless the provider reports success.
func (a *Adapter) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, ledger.ErrMissingKey
	}
	key := "deposit:" + req.IdempotencyKey

	var result *DepositResult
	err := a.ledger.WithUser(ctx, req.UserID, func(ctx context.Context, tx *ledger.Tx) error {
		prior, err := tx.Lookup(ctx, key)
		if err == nil {
			balance, err := tx.Balance(ctx)
			if err != nil {
				return err
			}
			result = &DepositResult{Transaction: prior, Balance: balance, Replayed: true}
			return nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		pctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		collection, err := a.provider.InitiateCollection(pctx, CollectionRequest{
			Reference: req.IdempotencyKey,
			UserID:    req.UserID,
			Amount:    req.Amount,
			Phone:     req.Phone,
		})
		if err != nil {
			a.logger.Warn("deposit_failed",
				"user_id", req.UserID,
				"amount", req.Amount,
				"error", err,
			)
			return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}

		credit, err := tx.Credit(ctx, ledger.Entry{
			Amount:         req.Amount,
			Kind:           model.KindDeposit,
			IdempotencyKey: key,
		})
		if err != nil {
			a.logger.Error("deposit_credit_failed",
				"user_id", req.UserID,
				"amount", req.Amount,
				"provider_ref", collection.ProviderRef,
				"error", err,
			)
			return err
		}

		a.logger.Info("deposit_completed",
			"user_id", req.UserID,
			"amount", req.Amount,
			"provider_ref", collection.ProviderRef,
		)
		result = &DepositResult{Transaction: credit, Balance: credit.BalanceAfter}
		return nil
	})

	switch {
	case err != nil:
		a.recorder.IncDeposit("failed")
	case result.Replayed:
		a.recorder.IncDeposit("replayed")
	default:
		a.recorder.IncDeposit("success")
	}
	return result, err
}

// Withdraw debits the wallet and asks the provider to pay req.Phone. If the
// provider rejects the payout the debit is reversed and ErrPaymentFailed is
// returned, also for every later request with the same key.
func (a *Adapter) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	if !model.ValidMSISDN(req.Phone) {
		return nil, ErrInvalidPhone
	}
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, ledger.ErrMissingKey
	}

	var (
		result   *WithdrawResult
		replayed bool
	)
	err := a.ledger.WithUser(ctx, req.UserID, func(ctx context.Context, tx *ledger.Tx) error {
		prior, err := a.store.FindWithdrawalByKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			replayed = true
			// A failed payout replays as the same failure.
			if prior.Status == model.WithdrawalFailed || prior.Status == model.WithdrawalReversed {
				return fmt.Errorf("%w: %s", ErrPaymentFailed, prior.FailureReason)
			}
			balance, err := tx.Balance(ctx)
			if err != nil {
				return err
			}
			result = &WithdrawResult{Withdrawal: prior, Balance: balance, Replayed: true}
			return nil
		}
		if !errors.Is(err, ErrWithdrawalNotFound) {
			return fmt.Errorf("lookup withdrawal: %w", err)
		}

		debit, err := tx.Debit(ctx, ledger.Entry{
			Amount:         req.Amount,
			Kind:           model.KindWithdrawal,
			IdempotencyKey: "withdraw:" + req.IdempotencyKey,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrDuplicateRequest) {
				return ErrKeyReused
			}
			return err
		}

		now := a.now().UTC()
		w := &model.Withdrawal{
			ID:             ulid.Make().String(),
			UserID:         req.UserID,
			Amount:         req.Amount,
			Destination:    req.Phone,
			IdempotencyKey: req.IdempotencyKey,
			Status:         model.WithdrawalPending,
			NextCheckAt:    now.Add(a.cfg.ConfirmTimeout),
			TransactionID:  debit.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		// Recorded before the provider call so the sweeper can reverse it
		// if the process dies mid-request.
		if err := a.store.CreateWithdrawal(ctx, w); err != nil {
			a.reverse(ctx, tx, w, "record_failed")
			return fmt.Errorf("record withdrawal: %w", err)
		}

		pctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		ref, err := a.provider.InitiatePayout(pctx, PayoutRequest{
			Reference: w.ID,
			UserID:    req.UserID,
			Amount:    req.Amount,
			Phone:     req.Phone,
		})
		if err != nil {
			w.FailureReason = err.Error()
			a.reverse(ctx, tx, w, "payout_failed")
			a.logger.Warn("withdrawal_failed",
				"withdrawal_id", w.ID,
				"user_id", req.UserID,
				"amount", req.Amount,
				"error", err,
			)
			return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}

		w.ProviderRef = ref
		w.NextCheckAt = a.now().Add(NextCheckDelay(0)).UTC()
		w.UpdatedAt = a.now().UTC()
		if err := a.store.UpdateWithdrawal(ctx, w); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}

		a.logger.Info("withdrawal_initiated",
			"withdrawal_id", w.ID,
			"user_id", req.UserID,
			"amount", req.Amount,
			"provider_ref", ref,
		)
		result = &WithdrawResult{Withdrawal: w, Balance: debit.BalanceAfter}
		return nil
	})

	switch {
	case replayed:
		a.recorder.IncWithdrawal("replayed")
	case err != nil:
		a.recorder.IncWithdrawal("failed")
	default:
		a.recorder.IncWithdrawal("pending")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConfirmPayout applies the provider's final word on a payout. A failed
// payout is credited back exactly once; repeated callbacks change nothing.
func (a *Adapter) ConfirmPayout(ctx context.Context, pendingID string, status PayoutStatus, reason string) (*model.Withdrawal, error) {
	found, err := a.store.FindWithdrawalByRef(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	var out *model.Withdrawal
	err = a.ledger.WithUser(ctx, found.UserID, func(ctx context.Context, tx *ledger.Tx) error {
		w, err := a.store.GetWithdrawal(ctx, found.ID)
		if err != nil {
			return err
		}
		out = w
		return a.apply(ctx, tx, w, status, reason)
	})
	return out, err
}

// apply moves w according to a provider status. Must hold the user's lock.
func (a *Adapter) apply(ctx context.Context, tx *ledger.Tx, w *model.Withdrawal, status PayoutStatus, reason string) error {
	switch status {
	case PayoutConfirmed:
		switch w.Status {
		case model.WithdrawalPending:
			w.Status = model.WithdrawalConfirmed
			w.UpdatedAt = a.now().UTC()
			if err := a.store.UpdateWithdrawal(ctx, w); err != nil {
				return fmt.Errorf("confirm withdrawal: %w", err)
			}
			a.recorder.IncWithdrawal("confirmed")
			a.logger.Info("withdrawal_confirmed", "withdrawal_id", w.ID, "user_id", w.UserID)
		case model.WithdrawalFailed, model.WithdrawalReversed:
			// The user has both the payout and the refund.
			a.logger.Error("payout_confirmed_after_reversal",
				"withdrawal_id", w.ID,
				"user_id", w.UserID,
				"amount", w.Amount,
				"provider_ref", w.ProviderRef,
			)
		}
	case PayoutFailed:
		switch w.Status {
		case model.WithdrawalPending, model.WithdrawalFailed:
			w.FailureReason = reason
			a.reverse(ctx, tx, w, "payout_failed")
		case model.WithdrawalConfirmed:
			a.logger.Warn("payout_failed_after_confirmation",
				"withdrawal_id", w.ID,
				"user_id", w.UserID,
				"reason", reason,
			)
		}
	case PayoutPending:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return nil
}

// Reconcile asks the provider about one unsettled withdrawal and either
// settles it, reverses it or schedules the next check.
func (a *Adapter) Reconcile(ctx context.Context, id string) error {
	found, err := a.store.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}

	return a.ledger.WithUser(ctx, found.UserID, func(ctx context.Context, tx *ledger.Tx) error {
		w, err := a.store.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}

		switch w.Status {
		case model.WithdrawalConfirmed, model.WithdrawalReversed:
			return nil
		case model.WithdrawalFailed:
			a.reverse(ctx, tx, w, "payout_failed")
			return nil
		}

		overdue := w.IsOverdue(a.cfg.ConfirmTimeout, a.now())
		if w.ProviderRef != "" {
			pctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
			status, err := a.provider.PayoutStatus(pctx, w.ProviderRef)
			cancel()
			switch {
			case err != nil:
				a.logger.Warn("payout_status_failed", "withdrawal_id", w.ID, "error", err)
			case status != PayoutPending:
				return a.apply(ctx, tx, w, status, "reported failed by provider")
			}
		}

		if overdue {
			w.FailureReason = "not confirmed within " + a.cfg.ConfirmTimeout.String()
			a.reverse(ctx, tx, w, "payout_timeout")
			return nil
		}

		w.Attempts++
		w.NextCheckAt = a.now().Add(NextCheckDelay(w.Attempts)).UTC()
		w.UpdatedAt = a.now().UTC()
		return a.store.UpdateWithdrawal(ctx, w)
	})
}

// reverse credits a withdrawal back. The withdrawal passes through FAILED so
// a crash before the credit is picked up again by the sweeper.
func (a *Adapter) reverse(ctx context.Context, tx *ledger.Tx, w *model.Withdrawal, reason string) {
	ctx = context.WithoutCancel(ctx)

	w.Status = model.WithdrawalFailed
	w.UpdatedAt = a.now().UTC()
	if w.FailureReason == "" {
		w.FailureReason = reason
	}
	if err := a.store.UpdateWithdrawal(ctx, w); err != nil {
		a.logger.Error("withdrawal_update_failed", "withdrawal_id", w.ID, "error", err)
	}

	_, err := tx.Credit(ctx, ledger.Entry{
		Amount:         w.Amount,
		Kind:           model.KindReversal,
		IdempotencyKey: "reversal:" + w.ID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateRequest) {
		a.logger.Error("withdrawal_reversal_failed",
			"withdrawal_id", w.ID,
			"user_id", w.UserID,
			"amount", w.Amount,
			"error", err,
		)
		return
	}

	w.Status = model.WithdrawalReversed
	w.UpdatedAt = a.now().UTC()
	if err := a.store.UpdateWithdrawal(ctx, w); err != nil {
		a.logger.Error("withdrawal_update_failed", "withdrawal_id", w.ID, "error", err)
		return
	}

	a.recorder.IncReversal(reason)
	a.logger.Info("withdrawal_reversed",
		"withdrawal_id", w.ID,
		"user_id", w.UserID,
		"amount", w.Amount,
		"reason", reason,
	)
}

// Withdrawal returns a withdrawal by id.
func (a *Adapter) Withdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return a.store.GetWithdrawal(ctx, id)
}
