package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/stretchr/testify/require"
)

const contractBaseURL = "http://localhost:8080"

// contractClient drives the router in process and checks every response
// against the OpenAPI document.
type contractClient struct {
	t      *testing.T
	router routers.Router
	api    http.Handler
	token  string
}

func newContractClient(t *testing.T) *contractClient {
	t.Helper()

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(filepath.Join("..", "..", "docs", "api", "openapi.yaml"))
	require.NoError(t, err, "load openapi document")
	require.NoError(t, doc.Validate(context.Background()), "openapi document is invalid")

	router, err := gorillamux.NewRouter(doc)
	require.NoError(t, err)

	return &contractClient{t: t, router: router, api: newTestRouter(t)}
}

func (c *contractClient) call(method, path string, body any, wantStatus int) []byte {
	c.t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req := httptest.NewRequest(method, contractBaseURL+path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	route, params, err := c.router.FindRoute(req)
	require.NoError(c.t, err, "%s %s is not documented", method, path)

	rec := httptest.NewRecorder()
	c.api.ServeHTTP(rec, req)
	require.Equal(c.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())

	respBody := rec.Body.Bytes()
	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
		},
		Status:  rec.Code,
		Header:  rec.Header(),
		Body:    io.NopCloser(bytes.NewReader(respBody)),
		Options: &openapi3filter.Options{IncludeResponseStatus: true},
	})
	require.NoError(c.t, err, "%s %s response does not match the document", method, path)
	return respBody
}

func TestContract_PublicEndpoints(t *testing.T) {
	c := newContractClient(t)

	c.call(http.MethodGet, "/healthz", nil, http.StatusOK)
	c.call(http.MethodGet, "/readyz", nil, http.StatusOK)
	c.call(http.MethodGet, "/api/lottery/status", nil, http.StatusOK)
	c.call(http.MethodGet, "/api/lottery/winners", nil, http.StatusOK)
	c.call(http.MethodGet, "/api/lottery/winners?limit=500", nil, http.StatusBadRequest)
	c.call(http.MethodGet, "/api/auth/status", nil, http.StatusOK)
	c.call(http.MethodGet, "/api/lottery/rounds/1/settlement", nil, http.StatusNotFound)
	c.call(http.MethodPost, "/api/lottery/buy", map[string]int{"quantity": 1}, http.StatusUnauthorized)
	c.call(http.MethodGet, "/api/payments/transactions", nil, http.StatusUnauthorized)
}

func TestContract_PlayerJourney(t *testing.T) {
	c := newContractClient(t)

	var session struct {
		Token string `json:"token"`
	}
	body := c.call(http.MethodPost, "/api/auth/register", map[string]string{
		"username": "wanjiku",
		"phone":    "254712345678",
		"password": "correct-horse",
	}, http.StatusCreated)
	require.NoError(t, json.Unmarshal(body, &session))
	c.token = session.Token

	c.call(http.MethodPost, "/api/auth/register", map[string]string{
		"username": "wanjiku",
		"phone":    "254700000001",
		"password": "correct-horse",
	}, http.StatusConflict)

	c.call(http.MethodGet, "/api/auth/status", nil, http.StatusOK)
	c.call(http.MethodPost, "/api/lottery/buy", map[string]int{"quantity": 1}, http.StatusPaymentRequired)
	c.call(http.MethodPost, "/api/payments/deposit", map[string]int64{"amount": 3000}, http.StatusOK)

	var purchase struct {
		RoundID       int64 `json:"roundId"`
		GameCompleted bool  `json:"gameCompleted"`
	}
	body = c.call(http.MethodPost, "/api/lottery/buy", map[string]int{"quantity": 50}, http.StatusOK)
	require.NoError(t, json.Unmarshal(body, &purchase))
	require.True(t, purchase.GameCompleted)

	c.call(http.MethodGet, fmt.Sprintf("/api/lottery/rounds/%d/settlement", purchase.RoundID), nil, http.StatusOK)
	c.call(http.MethodGet, "/api/lottery/status", nil, http.StatusOK)
	c.call(http.MethodPost, "/api/payments/withdraw", map[string]any{"amount": 100, "phone": "254712345678"}, http.StatusOK)
	c.call(http.MethodGet, "/api/payments/transactions?limit=10", nil, http.StatusOK)
	c.call(http.MethodPost, "/api/auth/logout", nil, http.StatusOK)
}
