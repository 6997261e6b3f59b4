package ledger

import (
	"context"
	"sync"

	"github.com/tikiti/tikiti/internal/model"
)

// MemoryStore is an in-process Store. Accounts spring into existence on first
// use with a zero balance.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]int64
	txs      map[string][]*model.Transaction
	byKey    map[string]*model.Transaction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		txs:      make(map[string][]*model.Transaction),
		byKey:    make(map[string]*model.Transaction),
	}
}

func keyOf(userID, key string) string {
	return userID + "\x00" + key
}

// Apply implements Store.
func (s *MemoryStore) Apply(ctx context.Context, tx *model.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(tx.UserID, tx.IdempotencyKey)
	if _, ok := s.byKey[k]; ok {
		return 0, ErrDuplicateRequest
	}

	next := s.balances[tx.UserID] + tx.Amount
	if next < 0 {
		return 0, ErrInsufficientFunds
	}

	stored := *tx
	stored.BalanceAfter = next
	s.balances[tx.UserID] = next
	s.txs[tx.UserID] = append(s.txs[tx.UserID], &stored)
	s.byKey[k] = &stored

	return next, nil
}

// Balance implements Store.
func (s *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

// FindByKey implements Store.
func (s *MemoryStore) FindByKey(ctx context.Context, userID, key string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byKey[keyOf(userID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.txs[userID]
	out := make([]*model.Transaction, 0, min(len(all), max(limit, 0)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Sum returns the sum of all transaction amounts for a user.
// It exists so tests can check the balance invariant.
func (s *MemoryStore) Sum(userID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, tx := range s.txs[userID] {
		total += tx.Amount
	}
	return total
}
