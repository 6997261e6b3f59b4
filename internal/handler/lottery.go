package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tikiti/tikiti/internal/auth"
	"github.com/tikiti/tikiti/internal/events"
	"github.com/tikiti/tikiti/internal/handler/dto"
	"github.com/tikiti/tikiti/internal/lottery"
)

// WinnerReader lists recent winners.
type WinnerReader interface {
	Recent(ctx context.Context, limit int) ([]events.Winner, error)
}

// LotteryHandler serves round status, ticket purchases and draw audits.
type LotteryHandler struct {
	engine  *lottery.Engine
	winners WinnerReader
	logger  *slog.Logger
}

// NewLotteryHandler creates a new LotteryHandler. winners may be nil.
func NewLotteryHandler(engine *lottery.Engine, winners WinnerReader, logger *slog.Logger) *LotteryHandler {
	return &LotteryHandler{
		engine:  engine,
		winners: winners,
		logger:  logger,
	}
}

// Status handles GET /api/lottery/status. Authenticated callers also get
// their own ticket numbers.
func (h *LotteryHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToStatusResponse(status))
}

// Buy handles POST /api/lottery/buy. The response also carries the round's
// settlement when this purchase sold the last ticket.
func (h *LotteryHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req dto.BuyTicketsRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	result, err := h.engine.BuyTickets(r.Context(), lottery.PurchaseRequest{
		UserID:         auth.UserIDFromContext(r.Context()),
		RoundID:        req.RoundID,
		Quantity:       req.Quantity,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	if result.Replayed {
		markReplayed(w)
	}
	writeJSON(w, http.StatusOK, dto.ToBuyTicketsResponse(result))
}

// Settlement handles GET /api/lottery/rounds/{id}/settlement.
func (h *LotteryHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	roundID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || roundID < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_ROUND_ID", "Round id must be a positive integer")
		return
	}

	rec, err := h.engine.Settlement(r.Context(), roundID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToSettlementResponse(rec))
}

// Winners handles GET /api/lottery/winners?limit=N.
func (h *LotteryHandler) Winners(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > events.MaxWinners {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "Limit must be between 1 and 50")
			return
		}
		limit = n
	}

	resp := dto.WinnersResponse{Data: []events.Winner{}}
	if h.winners != nil {
		winners, err := h.winners.Recent(r.Context(), limit)
		if err != nil {
			handleServiceError(w, h.logger, err)
			return
		}
		resp.Data = append(resp.Data, winners...)
	}
	writeJSON(w, http.StatusOK, resp)
}
