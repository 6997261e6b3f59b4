package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
)

// SandboxProvider is an in-process Provider for development and tests.
// Collections succeed and payouts stay pending until told otherwise.
type SandboxProvider struct {
	mu              sync.Mutex
	failCollections bool
	failPayouts     bool
	autoConfirm     bool
	payouts         map[string]PayoutStatus
	requests        []PayoutRequest
}

// NewSandboxProvider creates a SandboxProvider. With autoConfirm, payouts
// report CONFIRMED the first time their status is asked for.
func NewSandboxProvider(autoConfirm bool) *SandboxProvider {
	return &SandboxProvider{
		autoConfirm: autoConfirm,
		payouts:     make(map[string]PayoutStatus),
	}
}

// FailCollections makes subsequent collections fail.
func (s *SandboxProvider) FailCollections(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCollections = fail
}

// FailPayouts makes subsequent payout initiations fail.
func (s *SandboxProvider) FailPayouts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPayouts = fail
}

// SetPayoutStatus forces the status of a payout.
func (s *SandboxProvider) SetPayoutStatus(pendingID string, status PayoutStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[pendingID] = status
}

// Payouts returns how many payouts were initiated.
func (s *SandboxProvider) Payouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *SandboxProvider) InitiateCollection(ctx context.Context, req CollectionRequest) (*CollectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCollections {
		return nil, errors.New("sandbox: collection declined")
	}
	return &CollectionResult{ProviderRef: "sbx_col_" + ulid.Make().String()}, nil
}

func (s *SandboxProvider) InitiatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPayouts {
		return "", errors.New("sandbox: payout declined")
	}
	id := "sbx_pay_" + ulid.Make().String()
	s.payouts[id] = PayoutPending
	s.requests = append(s.requests, req)
	return id, nil
}

func (s *SandboxProvider) PayoutStatus(ctx context.Context, pendingID string) (PayoutStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.payouts[pendingID]
	if !ok {
		return "", errors.New("sandbox: unknown payout")
	}
	if status == PayoutPending && s.autoConfirm {
		status = PayoutConfirmed
		s.payouts[pendingID] = status
	}
	return status, nil
}
