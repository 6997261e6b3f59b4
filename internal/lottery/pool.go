package lottery

import (
	"sync"
	"time"

	"github.com/tikiti/tikiti/internal/model"
)

// Reservation holds capacity in a round for one purchase. Numbers are only
// assigned when it is committed.
type Reservation struct {
	id        uint64
	RoundID   int64
	UserID    string
	Requested int
	Granted   int
	Price     int64
}

// Amount is what the reservation costs.
func (r *Reservation) Amount() int64 {
	return int64(r.Granted) * r.Price
}

// Pool is the ticket pool of one round. All state changes happen under its
// mutex, so concurrent buyers can never be granted more than the capacity.
type Pool struct {
	mu sync.Mutex

	round          model.Round
	maxPerUser     int
	maxPerPurchase int

	reserved int
	held     map[string]int // committed + reserved, per user
	owners   []string       // owners[n-1] holds ticket n
	nextID   uint64
	pending  map[uint64]*Reservation
}

// NewPool builds the pool for round, restoring already issued tickets.
func NewPool(round model.Round, cfg RoundConfig, tickets []model.Ticket) *Pool {
	p := &Pool{
		round:          round,
		maxPerUser:     cfg.MaxTicketsPerUser,
		maxPerPurchase: cfg.MaxTicketsPerPurchase,
		held:           make(map[string]int),
		owners:         make([]string, 0, round.Capacity),
		pending:        make(map[uint64]*Reservation),
	}

	byNumber := make(map[int]string, len(tickets))
	for _, t := range tickets {
		byNumber[t.Number] = t.UserID
	}
	for n := 1; n <= len(byNumber); n++ {
		owner, ok := byNumber[n]
		if !ok {
			break
		}
		p.owners = append(p.owners, owner)
		p.held[owner]++
	}
	p.round.Sold = len(p.owners)

	return p
}

// ID returns the round id.
func (p *Pool) ID() int64 {
	return p.round.ID
}

// Snapshot returns a copy of the round as it is now.
func (p *Pool) Snapshot() model.Round {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}

// Reserve sets aside up to quantity tickets for userID. The grant is trimmed
// to what is left in the pool and to the per-user limit.
func (p *Pool) Reserve(userID string, quantity int) (*Reservation, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if p.maxPerPurchase > 0 && quantity > p.maxPerPurchase {
		return nil, ErrInvalidQuantity
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.round.Status != model.RoundOpen {
		return nil, ErrRoundNotOpen
	}

	available := p.round.Capacity - p.round.Sold - p.reserved
	if available <= 0 {
		return nil, ErrSoldOut
	}
	granted := min(quantity, available)

	if p.maxPerUser > 0 {
		left := p.maxPerUser - p.held[userID]
		if left <= 0 {
			return nil, ErrUserLimitReached
		}
		granted = min(granted, left)
	}

	p.nextID++
	res := &Reservation{
		id:        p.nextID,
		RoundID:   p.round.ID,
		UserID:    userID,
		Requested: quantity,
		Granted:   granted,
		Price:     p.round.Price,
	}
	p.pending[res.id] = res
	p.reserved += granted
	p.held[userID] += granted

	return res, nil
}

// PersistFunc stores a purchase's numbers before they become visible in the
// pool. completed is true when the purchase sells the last ticket.
type PersistFunc func(numbers []int, completed bool) error

// Commit turns a reservation into numbered tickets. Numbers follow on from
// the last committed ticket. persist, when not nil, runs inside the pool's
// critical section; if it fails the reservation is dropped and nothing is
// sold. completed is true for exactly one caller: the one whose commit sold
// the last ticket and moved the round to SETTLING.
func (p *Pool) Commit(res *Reservation, persist PersistFunc) (numbers []int, completed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[res.id]; !ok {
		return nil, false, ErrUnknownReservation
	}
	delete(p.pending, res.id)
	p.reserved -= res.Granted

	if p.round.Status != model.RoundOpen {
		p.held[res.UserID] -= res.Granted
		return nil, false, ErrRoundNotOpen
	}

	if p.round.Sold+res.Granted > p.round.Capacity || len(p.owners) != p.round.Sold {
		p.held[res.UserID] -= res.Granted
		p.round.Status = model.RoundAborted
		return nil, false, &InvariantError{
			RoundID:  p.round.ID,
			Sold:     p.round.Sold + res.Granted,
			Capacity: p.round.Capacity,
		}
	}

	numbers = make([]int, res.Granted)
	for i := range numbers {
		numbers[i] = p.round.Sold + i + 1
	}
	completed = p.round.Sold+res.Granted == p.round.Capacity

	if persist != nil {
		if err := persist(numbers, completed); err != nil {
			p.held[res.UserID] -= res.Granted
			return nil, false, err
		}
	}

	for range numbers {
		p.owners = append(p.owners, res.UserID)
	}
	p.round.Sold += res.Granted
	if completed {
		p.round.Status = model.RoundSettling
	}
	return numbers, completed, nil
}

// Release returns a reservation's capacity to the pool. Releasing an unknown
// or already committed reservation does nothing.
func (p *Pool) Release(res *Reservation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[res.id]; !ok {
		return
	}
	delete(p.pending, res.id)
	p.reserved -= res.Granted
	p.held[res.UserID] -= res.Granted
}

// UserTickets returns the numbers userID holds in this round.
func (p *Pool) UserTickets(userID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []int
	for i, owner := range p.owners {
		if owner == userID {
			out = append(out, i+1)
		}
	}
	return out
}

// Owner returns the holder of ticket number.
func (p *Pool) Owner(number int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if number < 1 || number > len(p.owners) {
		return "", false
	}
	return p.owners[number-1], true
}

func (p *Pool) setStatus(status model.RoundStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.round.Status = status
}

func (p *Pool) close(seed string, at time.Time) model.Round {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.round.Status = model.RoundClosed
	p.round.Seed = seed
	p.round.ClosedAt = &at
	return p.round
}
