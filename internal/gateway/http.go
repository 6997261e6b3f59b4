package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	BaseURL  string
	APIKey   string
	Secret   string // signs outgoing requests
	Currency string
	// MinorUnits is the number of decimal places between wallet amounts and
	// the provider's amounts. KES wallets hold whole shillings, so 0.
	MinorUnits int32
	Timeout    time.Duration
}

// HTTPProvider talks to a mobile money aggregator over JSON/HTTP.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	now    func() time.Time
}

// NewHTTPProvider creates an HTTPProvider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{
		cfg:    cfg,
		client: NewHTTPClient(cfg.Timeout),
		now:    time.Now,
	}, nil
}

// ToMajor renders a wallet amount in the provider's decimal units.
func ToMajor(amount int64, minorUnits int32) string {
	return decimal.New(amount, -minorUnits).StringFixed(minorUnits)
}

// FromMajor parses a provider amount back into wallet units. Amounts finer
// than one wallet unit are rejected.
func FromMajor(s string, minorUnits int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	shifted := d.Shift(minorUnits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, minorUnits)
	}
	return shifted.IntPart(), nil
}

type collectionBody struct {
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	MSISDN    string `json:"msisdn,omitempty"`
	Account   string `json:"account"`
}

type collectionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (p *HTTPProvider) InitiateCollection(ctx context.Context, req CollectionRequest) (*CollectionResult, error) {
	var resp collectionResponse
	err := p.do(ctx, http.MethodPost, "/collections", collectionBody{
		Reference: req.Reference,
		Amount:    ToMajor(req.Amount, p.cfg.MinorUnits),
		Currency:  p.cfg.Currency,
		MSISDN:    req.Phone,
		Account:   req.UserID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	status, err := ParsePayoutStatus(resp.Status)
	if err != nil {
		return nil, err
	}
	if status != PayoutConfirmed {
		return nil, fmt.Errorf("collection %s: %s %s", resp.ID, resp.Status, resp.Reason)
	}
	if resp.Amount != "" {
		got, err := FromMajor(resp.Amount, p.cfg.MinorUnits)
		if err != nil {
			return nil, err
		}
		if got != req.Amount {
			return nil, fmt.Errorf("collection %s: collected %d, requested %d", resp.ID, got, req.Amount)
		}
	}
	return &CollectionResult{ProviderRef: resp.ID}, nil
}

func (p *HTTPProvider) InitiatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	var resp payoutResponse
	err := p.do(ctx, http.MethodPost, "/payouts", collectionBody{
		Reference: req.Reference,
		Amount:    ToMajor(req.Amount, p.cfg.MinorUnits),
		Currency:  p.cfg.Currency,
		MSISDN:    req.Phone,
		Account:   req.UserID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("payout response has no id")
	}
	if status, err := ParsePayoutStatus(resp.Status); err == nil && status == PayoutFailed {
		return "", fmt.Errorf("payout %s rejected: %s", resp.ID, resp.Reason)
	}
	return resp.ID, nil
}

func (p *HTTPProvider) PayoutStatus(ctx context.Context, pendingID string) (PayoutStatus, error) {
	var resp payoutResponse
	if err := p.do(ctx, http.MethodGet, "/payouts/"+url.PathEscape(pendingID), nil, &resp); err != nil {
		return "", err
	}
	return ParsePayoutStatus(resp.Status)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	timestamp := p.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderSignature, GenerateSignature(p.cfg.Secret, timestamp, payload))
	req.Header.Set("User-Agent", "Tikiti-Gateway/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	// Limit response body read to 64KB
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
