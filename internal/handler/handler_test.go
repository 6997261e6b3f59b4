package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikiti/tikiti/internal/cache"
	"github.com/tikiti/tikiti/internal/events"
	"github.com/tikiti/tikiti/internal/gateway"
	"github.com/tikiti/tikiti/internal/handler/dto"
	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/lottery"
	"github.com/tikiti/tikiti/internal/middleware"
	"github.com/tikiti/tikiti/internal/model"
	"github.com/tikiti/tikiti/internal/service"
)

const testCallbackSecret = "callback-secret"

type apiEnv struct {
	router   http.Handler
	ledger   *ledger.Ledger
	provider *gateway.SandboxProvider
	payments *gateway.Adapter
}

func newAPIEnv(t *testing.T, cfg lottery.RoundConfig) *apiEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New(ledger.NewMemoryStore(), logger)
	store := lottery.NewMemoryStore()
	manager, err := lottery.NewManager(store, cfg, nil, logger)
	require.NoError(t, err)
	settler, err := lottery.NewSettler(store, l, manager, nil, nil, lottery.DefaultSettlerConfig(), logger)
	require.NoError(t, err)
	engine := lottery.NewEngine(manager, settler, l, store, nil, logger)
	require.NoError(t, engine.Start(context.Background()))

	provider := gateway.NewSandboxProvider(false)
	payments := gateway.NewAdapter(provider, l, gateway.NewMemoryStore(), nil, gateway.DefaultConfig(), logger)
	accounts := service.NewAccountService(service.NewMemoryUserStore(), cache.NewMemorySessions(), l, time.Hour, logger)

	lotteryHandler := NewLotteryHandler(engine, stubWinners{{RoundID: 1, Username: "alice", WinningNumber: 3, Payout: 225}}, logger)
	paymentHandler := NewPaymentHandler(payments, accounts, l, testCallbackSecret, logger)
	accountHandler := NewAccountHandler(accounts, false, logger)

	authCfg := middleware.AuthConfig{Logger: logger, Authenticator: accounts}
	r := chi.NewRouter()
	r.Use(middleware.IdempotencyKey)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", accountHandler.Register)
		r.Post("/auth/login", accountHandler.Login)
		r.Post("/auth/logout", accountHandler.Logout)
		r.With(middleware.OptionalAuth(authCfg)).Get("/auth/status", accountHandler.Status)
		r.With(middleware.OptionalAuth(authCfg)).Get("/lottery/status", lotteryHandler.Status)
		r.Get("/lottery/rounds/{id}/settlement", lotteryHandler.Settlement)
		r.Get("/lottery/winners", lotteryHandler.Winners)
		r.Post("/payments/callback", paymentHandler.Callback)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(authCfg))
			r.Post("/lottery/buy", lotteryHandler.Buy)
			r.Post("/payments/deposit", paymentHandler.Deposit)
			r.Post("/payments/withdraw", paymentHandler.Withdraw)
			r.Get("/payments/transactions", paymentHandler.Transactions)
		})
	})

	return &apiEnv{router: r, ledger: l, provider: provider, payments: payments}
}

type stubWinners []events.Winner

func (s stubWinners) Recent(ctx context.Context, limit int) ([]events.Winner, error) {
	if limit < len(s) {
		return s[:limit], nil
	}
	return s, nil
}

type testUser struct {
	id    string
	token string
}

func (env *apiEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) register(t *testing.T, username, phone string) testUser {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"phone":    phone,
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp dto.SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return testUser{id: resp.User.ID, token: resp.Token}
}

func (env *apiEnv) deposit(t *testing.T, u testUser, amount int64) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/payments/deposit", u.token, map[string]int64{"amount": amount}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func smallRound() lottery.RoundConfig {
	cfg := lottery.DefaultRoundConfig()
	cfg.Capacity = 5
	cfg.Price = 50
	return cfg
}

func TestHandler_NotFound(t *testing.T) {
	h := New("test")

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	h.NotFound(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[dto.ErrorResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := New("test")

	req := httptest.NewRequest(http.MethodDelete, "/api/lottery/status", nil)
	rec := httptest.NewRecorder()

	h.MethodNotAllowed(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decode[dto.ErrorResponse](t, rec).Code)
}

func TestBuyRequiresAuthentication(t *testing.T) {
	env := newAPIEnv(t, smallRound())

	rec := env.do(t, http.MethodPost, "/api/lottery/buy", "", map[string]int{"quantity": 1}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[dto.ErrorResponse](t, rec).Code)
}

func TestBuyCompletesRoundInOneResponse(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	bob := env.register(t, "bob", "254722222222")
	env.deposit(t, alice, 500)
	env.deposit(t, bob, 500)

	rec := env.do(t, http.MethodPost, "/api/lottery/buy", alice.token, map[string]int{"quantity": 4}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[dto.BuyTicketsResponse](t, rec)
	assert.Equal(t, []int{1, 2, 3, 4}, first.TicketNumbers)
	assert.Equal(t, int64(300), first.NewBalance)
	assert.False(t, first.GameCompleted)

	rec = env.do(t, http.MethodPost, "/api/lottery/buy", bob.token, map[string]int{"quantity": 3}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	last := decode[dto.BuyTicketsResponse](t, rec)
	assert.Equal(t, 3, last.Requested)
	assert.Equal(t, 1, last.Granted)
	assert.Equal(t, []int{5}, last.TicketNumbers)
	assert.Equal(t, int64(50), last.Amount)
	assert.True(t, last.GameCompleted)
	require.NotNil(t, last.Settlement)
	assert.True(t, last.Settlement.Verified)
	assert.Contains(t, []string{alice.id, bob.id}, last.Settlement.WinnerID)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/lottery/rounds/%d/settlement", last.RoundID), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[dto.SettlementResponse](t, rec)
	assert.Equal(t, last.Settlement.Seed, audit.Seed)
	assert.Equal(t, last.Settlement.WinningNumber, audit.WinningNumber)

	rec = env.do(t, http.MethodGet, "/api/lottery/status", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[dto.StatusResponse](t, rec)
	assert.Equal(t, last.RoundID+1, status.RoundID)
	assert.Equal(t, 0, status.TicketsSold)
	assert.Equal(t, 5, status.TicketsAvailable)
	require.NotNil(t, status.LastSettlement)
	assert.Equal(t, last.RoundID, status.LastSettlement.RoundID)
}

func TestBuyReplaysIdempotencyKey(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	env.deposit(t, alice, 500)

	headers := map[string]string{middleware.IdempotencyKeyHeader: "buy-1"}
	first := env.do(t, http.MethodPost, "/api/lottery/buy", alice.token, map[string]int{"quantity": 2}, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := env.do(t, http.MethodPost, "/api/lottery/buy", alice.token, map[string]int{"quantity": 2}, headers)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t,
		decode[dto.BuyTicketsResponse](t, first).TicketNumbers,
		decode[dto.BuyTicketsResponse](t, second).TicketNumbers,
	)

	bal, err := env.ledger.Balance(context.Background(), alice.id)
	require.NoError(t, err)
	assert.Equal(t, int64(400), bal)
}

func TestBuyErrors(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	poor := env.register(t, "poor", "254733333333")
	env.deposit(t, poor, 100)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"zero quantity", map[string]int{"quantity": 0}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"malformed body", "not-json", http.StatusBadRequest, "INVALID_BODY"},
		{"insufficient funds", map[string]int{"quantity": 3}, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{"closed round", map[string]int64{"quantity": 1, "roundId": 99}, http.StatusConflict, "ROUND_NOT_OPEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/lottery/buy", poor.token, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[dto.ErrorResponse](t, rec).Code)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/lottery/status", poor.token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[dto.StatusResponse](t, rec).TicketsSold)
}

func TestBuyAcceptsFormPost(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	env.deposit(t, alice, 500)

	form := url.Values{"quantity": {"2"}}
	req := httptest.NewRequest(http.MethodPost, "/api/lottery/buy", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+alice.token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[dto.BuyTicketsResponse](t, rec).Granted)
}

func TestStatusShowsOwnTickets(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	env.deposit(t, alice, 500)
	rec := env.do(t, http.MethodPost, "/api/lottery/buy", alice.token, map[string]int{"quantity": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/lottery/status", alice.token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[dto.StatusResponse](t, rec)
	assert.Equal(t, []int{1, 2}, mine.UserTickets)
	assert.Equal(t, int64(100), mine.PrizePool)

	rec = env.do(t, http.MethodGet, "/api/lottery/status", "", nil, nil)
	anon := decode[dto.StatusResponse](t, rec)
	assert.Empty(t, anon.UserTickets)
	assert.Equal(t, 2, anon.TicketsSold)
}

func TestSettlementNotFound(t *testing.T) {
	env := newAPIEnv(t, smallRound())

	rec := env.do(t, http.MethodGet, "/api/lottery/rounds/1/settlement", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/lottery/rounds/abc/settlement", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositAndWithdraw(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")

	rec := env.do(t, http.MethodPost, "/api/payments/deposit", alice.token, map[string]int64{"amount": 1000}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1000), decode[dto.PaymentResponse](t, rec).NewBalance)

	rec = env.do(t, http.MethodPost, "/api/payments/withdraw", alice.token, map[string]any{"amount": 400, "phone": "254711111111"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dto.PaymentResponse](t, rec)
	assert.Equal(t, int64(600), resp.NewBalance)
	assert.Equal(t, string(model.WithdrawalPending), resp.Status)
	assert.NotEmpty(t, resp.WithdrawalID)

	rec = env.do(t, http.MethodGet, "/api/payments/transactions", alice.token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[dto.TransactionListResponse](t, rec)
	require.Len(t, history.Data, 2)
	assert.Equal(t, string(model.KindWithdrawal), history.Data[0].Kind)
	assert.Equal(t, int64(-400), history.Data[0].Amount)
}

func TestPaymentErrors(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	env.deposit(t, alice, 100)

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"negative deposit", "/api/payments/deposit", map[string]int64{"amount": -5}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"local phone", "/api/payments/withdraw", map[string]any{"amount": 50, "phone": "071234567"}, http.StatusBadRequest, "INVALID_PHONE"},
		{"missing phone", "/api/payments/withdraw", map[string]int64{"amount": 50}, http.StatusBadRequest, "INVALID_PHONE"},
		{"overdraw", "/api/payments/withdraw", map[string]any{"amount": 500, "phone": "254711111111"}, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, alice.token, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[dto.ErrorResponse](t, rec).Code)
		})
	}

	env.provider.FailCollections(true)
	rec := env.do(t, http.MethodPost, "/api/payments/deposit", alice.token, map[string]int64{"amount": 50}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PAYMENT_FAILED", decode[dto.ErrorResponse](t, rec).Code)

	bal, err := env.ledger.Balance(context.Background(), alice.id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}

func TestCallbackReversesFailedPayout(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	env.deposit(t, alice, 1000)

	rec := env.do(t, http.MethodPost, "/api/payments/withdraw", alice.token, map[string]any{"amount": 400, "phone": "254711111111"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	w, err := env.payments.Withdrawal(context.Background(), decode[dto.PaymentResponse](t, rec).WithdrawalID)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"pendingId":%q,"status":"FAILED","reason":"subscriber unreachable"}`, w.ProviderRef)
	send := func(secret string, ts int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(gateway.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(gateway.HeaderSignature, gateway.GenerateSignature(secret, ts, []byte(body)))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	now := time.Now().Unix()
	assert.Equal(t, http.StatusUnauthorized, send("wrong-secret", now).Code)
	assert.Equal(t, http.StatusUnauthorized, send(testCallbackSecret, now-3600).Code)

	for i := 0; i < 2; i++ {
		rec := send(testCallbackSecret, now)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, string(model.WithdrawalReversed), decode[dto.CallbackResponse](t, rec).Status)
	}

	bal, err := env.ledger.Balance(context.Background(), alice.id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
}

func TestWithdrawReplayOfRejectedPayout(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")
	env.deposit(t, alice, 1000)
	body := map[string]any{"amount": 400, "phone": "254711111111"}
	key := map[string]string{"Idempotency-Key": "wd-1"}

	env.provider.FailPayouts(true)
	rec := env.do(t, http.MethodPost, "/api/payments/withdraw", alice.token, body, key)
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Equal(t, "PAYMENT_FAILED", decode[dto.ErrorResponse](t, rec).Code)

	env.provider.FailPayouts(false)
	rec = env.do(t, http.MethodPost, "/api/payments/withdraw", alice.token, body, key)
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Equal(t, "PAYMENT_FAILED", decode[dto.ErrorResponse](t, rec).Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))

	bal, err := env.ledger.Balance(context.Background(), alice.id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
}

func TestAuthFlow(t *testing.T) {
	env := newAPIEnv(t, smallRound())
	alice := env.register(t, "alice", "254711111111")

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice2", "phone": "254711111111", "password": "correct-horse",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PHONE_TAKEN", decode[dto.ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"phone": "254711111111", "password": "wrong-horse",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"phone": "254711111111", "password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[dto.SessionResponse](t, rec)
	assert.Equal(t, alice.id, session.User.ID)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = env.do(t, http.MethodGet, "/api/auth/status", session.Token, nil, nil)
	status := decode[dto.AuthStatusResponse](t, rec)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "alice", status.User.Username)

	rec = env.do(t, http.MethodPost, "/api/auth/logout", session.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/status", session.Token, nil, nil)
	assert.False(t, decode[dto.AuthStatusResponse](t, rec).Authenticated)
}

func TestWinners(t *testing.T) {
	env := newAPIEnv(t, smallRound())

	rec := env.do(t, http.MethodGet, "/api/lottery/winners", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dto.WinnersResponse](t, rec)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "alice", resp.Data[0].Username)

	rec = env.do(t, http.MethodGet, "/api/lottery/winners?limit=500", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
