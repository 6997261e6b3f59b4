package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tikiti/tikiti/internal/model"
)

// Store persists withdrawals.
type Store interface {
	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error)
	FindWithdrawalByKey(ctx context.Context, userID, key string) (*model.Withdrawal, error)
	FindWithdrawalByRef(ctx context.Context, providerRef string) (*model.Withdrawal, error)
	// DueWithdrawals returns PENDING and FAILED withdrawals whose next check
	// is at or before now, oldest first.
	DueWithdrawals(ctx context.Context, now time.Time, limit int) ([]*model.Withdrawal, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	withdrawals map[string]*model.Withdrawal
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{withdrawals: make(map[string]*model.Withdrawal)}
}

func (s *MemoryStore) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.withdrawals[w.ID]; !ok {
		return ErrWithdrawalNotFound
	}
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) find(match func(*model.Withdrawal) bool) (*model.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.withdrawals {
		if match(w) {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrWithdrawalNotFound
}

func (s *MemoryStore) FindWithdrawalByKey(ctx context.Context, userID, key string) (*model.Withdrawal, error) {
	return s.find(func(w *model.Withdrawal) bool {
		return w.UserID == userID && w.IdempotencyKey == key
	})
}

func (s *MemoryStore) FindWithdrawalByRef(ctx context.Context, providerRef string) (*model.Withdrawal, error) {
	if providerRef == "" {
		return nil, ErrWithdrawalNotFound
	}
	return s.find(func(w *model.Withdrawal) bool {
		return w.ProviderRef == providerRef
	})
}

func (s *MemoryStore) DueWithdrawals(ctx context.Context, now time.Time, limit int) ([]*model.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Withdrawal
	for _, w := range s.withdrawals {
		if w.Status.IsFinal() {
			continue
		}
		if w.NextCheckAt.After(now) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
