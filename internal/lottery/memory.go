package lottery

import (
	"context"
	"sync"

	"github.com/tikiti/tikiti/internal/model"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	rounds      map[int64]*model.Round
	latest      int64
	tickets     map[int64][]model.Ticket
	purchases   map[string]*model.Purchase
	settlements map[int64]*model.SettlementRecord
	lastSettled int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:      make(map[int64]*model.Round),
		tickets:     make(map[int64][]model.Ticket),
		purchases:   make(map[string]*model.Purchase),
		settlements: make(map[int64]*model.SettlementRecord),
	}
}

func (s *MemoryStore) CreateRound(ctx context.Context, round *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *round
	s.rounds[round.ID] = &cp
	if round.ID > s.latest {
		s.latest = round.ID
	}
	return nil
}

func (s *MemoryStore) UpdateRound(ctx context.Context, round *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rounds[round.ID]
	if !ok {
		return ErrRoundNotFound
	}
	stored.Status = round.Status
	stored.Seed = round.Seed
	stored.ClosedAt = round.ClosedAt
	return nil
}

func (s *MemoryStore) GetRound(ctx context.Context, id int64) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) LatestRound(ctx context.Context) (*model.Round, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == 0 {
		return nil, ErrRoundNotFound
	}
	return s.GetRound(ctx, latest)
}

func (s *MemoryStore) ListTickets(ctx context.Context, roundID int64) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Ticket(nil), s.tickets[roundID]...), nil
}

func (s *MemoryStore) SavePurchase(ctx context.Context, purchase *model.Purchase, tickets []model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[purchase.RoundID]
	if !ok {
		return ErrRoundNotFound
	}

	cp := *purchase
	cp.TicketNumbers = append([]int(nil), purchase.TicketNumbers...)
	s.purchases[purchase.UserID+"\x00"+purchase.IdempotencyKey] = &cp
	s.tickets[purchase.RoundID] = append(s.tickets[purchase.RoundID], tickets...)

	round.Sold += len(tickets)
	if round.Sold >= round.Capacity && round.Status == model.RoundOpen {
		round.Status = model.RoundSettling
	}
	return nil
}

func (s *MemoryStore) FindPurchase(ctx context.Context, userID, key string) (*model.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[userID+"\x00"+key]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[rec.RoundID]; ok {
		return ErrAlreadySettled
	}
	cp := *rec
	s.settlements[rec.RoundID] = &cp
	if rec.RoundID > s.lastSettled {
		s.lastSettled = rec.RoundID
	}
	return nil
}

func (s *MemoryStore) GetSettlement(ctx context.Context, roundID int64) (*model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.settlements[roundID]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) LatestSettlement(ctx context.Context) (*model.SettlementRecord, error) {
	s.mu.RLock()
	last := s.lastSettled
	s.mu.RUnlock()

	if last == 0 {
		return nil, ErrSettlementNotFound
	}
	return s.GetSettlement(ctx, last)
}

// SettlementCount returns how many rounds have a settlement record.
func (s *MemoryStore) SettlementCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.settlements)
}
