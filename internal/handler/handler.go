// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/tikiti/tikiti/internal/gateway"
	"github.com/tikiti/tikiti/internal/handler/dto"
	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/lottery"
	"github.com/tikiti/tikiti/internal/middleware"
	"github.com/tikiti/tikiti/internal/service"
)

// errInvalidBody marks a request body that could not be decoded.
var errInvalidBody = errors.New("invalid request body")

// Handler serves the routes that belong to no domain.
type Handler struct {
	version string
}

// New creates a new Handler instance.
func New(version string) *Handler {
	return &Handler{version: version}
}

// Root identifies the service.
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "tikiti",
		"version": h.version,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Success: false,
		Message: message,
		Code:    code,
	})
}

// decodeRequest fills dst from a JSON body, or from a urlencoded form when
// dst implements dto.FormBinder.
func decodeRequest(r *http.Request, dst any) error {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		binder, ok := dst.(dto.FormBinder)
		if !ok {
			return errInvalidBody
		}
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		if err := binder.BindForm(r.PostForm); err != nil {
			return fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return nil
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// idempotencyKey returns the caller's Idempotency-Key, or a fresh key that
// offers no replay protection.
func idempotencyKey(r *http.Request) string {
	if key := middleware.GetIdempotencyKey(r.Context()); key != "" {
		return key
	}
	return ulid.Make().String()
}

func markReplayed(w http.ResponseWriter) {
	w.Header().Set("Idempotent-Replayed", "true")
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, errInvalidBody):
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	case errors.Is(err, lottery.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", "Quantity must be at least 1")
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive")
	case errors.Is(err, gateway.ErrInvalidPhone), errors.Is(err, service.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "INVALID_PHONE", "Phone must be in the format 254XXXXXXXXX")
	case errors.Is(err, service.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "INVALID_USERNAME", "Username must be 3-32 letters, digits or underscores")
	case errors.Is(err, service.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "WEAK_PASSWORD", "Password must be 8-128 characters")
	case errors.Is(err, gateway.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown payout status")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid phone or password")
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", "Insufficient balance")
	case errors.Is(err, lottery.ErrSoldOut):
		writeError(w, http.StatusConflict, "SOLD_OUT", "No tickets left in this round")
	case errors.Is(err, lottery.ErrRoundNotOpen):
		writeError(w, http.StatusConflict, "ROUND_NOT_OPEN", "Round is not open")
	case errors.Is(err, lottery.ErrUserLimitReached):
		writeError(w, http.StatusConflict, "USER_LIMIT_REACHED", "Ticket limit for this round reached")
	case errors.Is(err, lottery.ErrKeyReused), errors.Is(err, gateway.ErrKeyReused):
		writeError(w, http.StatusConflict, "IDEMPOTENCY_KEY_REUSED", "Idempotency key belongs to an earlier failed request")
	case errors.Is(err, service.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "USERNAME_TAKEN", "Username already exists")
	case errors.Is(err, service.ErrPhoneTaken):
		writeError(w, http.StatusConflict, "PHONE_TAKEN", "Phone already registered")
	case errors.Is(err, lottery.ErrRoundNotFound):
		writeError(w, http.StatusNotFound, "ROUND_NOT_FOUND", "Round not found")
	case errors.Is(err, lottery.ErrSettlementNotFound):
		writeError(w, http.StatusNotFound, "SETTLEMENT_NOT_FOUND", "Round has not been settled")
	case errors.Is(err, gateway.ErrWithdrawalNotFound):
		writeError(w, http.StatusNotFound, "WITHDRAWAL_NOT_FOUND", "Withdrawal not found")
	case errors.Is(err, gateway.ErrPaymentFailed):
		writeError(w, http.StatusBadGateway, "PAYMENT_FAILED", "Payment provider rejected the request")
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
