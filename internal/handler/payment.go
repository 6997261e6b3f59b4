package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tikiti/tikiti/internal/auth"
	"github.com/tikiti/tikiti/internal/gateway"
	"github.com/tikiti/tikiti/internal/handler/dto"
	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/service"
)

// defaultHistoryLimit caps GET /api/payments/transactions.
const defaultHistoryLimit = 50

// PaymentHandler serves deposits, withdrawals, provider callbacks and the
// transaction history.
type PaymentHandler struct {
	payments       *gateway.Adapter
	accounts       *service.AccountService
	ledger         *ledger.Ledger
	callbackSecret string
	logger         *slog.Logger
	now            func() time.Time
}

// NewPaymentHandler creates a new PaymentHandler. Callbacks are rejected
// when callbackSecret is empty.
func NewPaymentHandler(payments *gateway.Adapter, accounts *service.AccountService, l *ledger.Ledger, callbackSecret string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:       payments,
		accounts:       accounts,
		ledger:         l,
		callbackSecret: callbackSecret,
		logger:         logger,
		now:            time.Now,
	}
}

// Deposit handles POST /api/payments/deposit. Money is collected from the
// account's registered phone.
func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	user, err := h.accounts.User(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	result, err := h.payments.Deposit(r.Context(), gateway.DepositRequest{
		UserID:         user.ID,
		Amount:         req.Amount,
		Phone:          user.Phone,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	if result.Replayed {
		markReplayed(w)
	}
	writeJSON(w, http.StatusOK, dto.PaymentResponse{
		Success:       true,
		Message:       "Deposit successful",
		NewBalance:    result.Balance,
		TransactionID: result.Transaction.ID,
	})
}

// Withdraw handles POST /api/payments/withdraw. The wallet is debited now
// and the payout stays PENDING until the provider confirms it. A replayed key
// whose payout failed answers PAYMENT_FAILED again.
func (h *PaymentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req dto.WithdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	// The destination is always explicit; an empty phone fails validation.
	result, err := h.payments.Withdraw(r.Context(), gateway.WithdrawRequest{
		UserID:         auth.UserIDFromContext(r.Context()),
		Amount:         req.Amount,
		Phone:          req.Phone,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	if result.Replayed {
		markReplayed(w)
	}
	writeJSON(w, http.StatusOK, dto.PaymentResponse{
		Success:      true,
		Message:      "Withdrawal initiated",
		NewBalance:   result.Balance,
		WithdrawalID: result.Withdrawal.ID,
		Status:       string(result.Withdrawal.Status),
	})
}

// Callback handles POST /api/payments/callback, the provider's signed
// notification that a payout settled or failed.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.callbackSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "CALLBACKS_DISABLED", "Provider callbacks are not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}

	timestamp, err := strconv.ParseInt(r.Header.Get(gateway.HeaderTimestamp), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Missing or malformed signature timestamp")
		return
	}
	signature := r.Header.Get(gateway.HeaderSignature)
	if err := gateway.ValidateSignature(h.callbackSecret, signature, timestamp, body, gateway.DefaultReplayWindow, h.now()); err != nil {
		h.logger.Warn("callback_rejected", "error", err)
		code := "INVALID_SIGNATURE"
		if errors.Is(err, gateway.ErrReplayWindowExceeded) {
			code = "STALE_CALLBACK"
		}
		writeError(w, http.StatusUnauthorized, code, "Callback signature rejected")
		return
	}

	var cb dto.PayoutCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.PendingID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid callback body")
		return
	}
	status, err := gateway.ParsePayoutStatus(cb.Status)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	withdrawal, err := h.payments.ConfirmPayout(r.Context(), cb.PendingID, status, cb.Reason)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("payout_callback",
		"withdrawal_id", withdrawal.ID,
		"provider_status", status,
		"status", withdrawal.Status,
	)
	writeJSON(w, http.StatusOK, dto.CallbackResponse{
		Success:      true,
		WithdrawalID: withdrawal.ID,
		Status:       string(withdrawal.Status),
	})
}

// Transactions handles GET /api/payments/transactions?limit=N.
func (h *PaymentHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "Limit must be between 1 and 200")
			return
		}
		limit = n
	}

	txs, err := h.ledger.History(r.Context(), auth.UserIDFromContext(r.Context()), limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToTransactionListResponse(txs))
}
