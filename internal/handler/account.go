package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tikiti/tikiti/internal/auth"
	"github.com/tikiti/tikiti/internal/handler/dto"
	"github.com/tikiti/tikiti/internal/middleware"
	"github.com/tikiti/tikiti/internal/service"
)

// AccountHandler serves registration, login and session status.
type AccountHandler struct {
	accounts     *service.AccountService
	secureCookie bool
	logger       *slog.Logger
}

// NewAccountHandler creates a new AccountHandler. secureCookie marks the
// session cookie Secure and should be false only in development.
func NewAccountHandler(accounts *service.AccountService, secureCookie bool, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:     accounts,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// Register handles POST /api/auth/register.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	session, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// Login handles POST /api/auth/login.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	session, err := h.accounts.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Logout handles POST /api/auth/logout. It succeeds even without a session.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.accounts.Logout(r.Context(), token); err != nil {
			handleServiceError(w, h.logger, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Status handles GET /api/auth/status behind OptionalAuth.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusOK, dto.AuthStatusResponse{Authenticated: false})
		return
	}

	user, err := h.accounts.User(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.AuthStatusResponse{
		Authenticated: true,
		User:          dto.ToUserResponse(user),
	})
}

func (h *AccountHandler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func toSessionResponse(s *service.Session) dto.SessionResponse {
	return dto.SessionResponse{
		Success:   true,
		User:      dto.ToUserResponse(s.User),
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
	}
}
