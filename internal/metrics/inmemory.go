package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Purchases               map[string]uint64
	TicketsSold             uint64
	PurchaseDurationCount   uint64
	PurchaseDurationTotalNs int64
	RoundsSettled           uint64
	PayoutTotal             int64
	InvariantViolations     uint64
	Deposits                map[string]uint64
	Withdrawals             map[string]uint64
	Reversals               map[string]uint64
	EventsPublished         map[string]uint64
	EventsConsumed          map[string]uint64
}

// InMemoryRecorder stores metrics in memory. The server logs its totals on
// shutdown.
type InMemoryRecorder struct {
	ticketsSold             uint64
	purchaseDurationCount   uint64
	purchaseDurationTotalNs int64
	roundsSettled           uint64
	payoutTotal             int64
	invariantViolations     uint64

	mu       sync.Mutex
	labelled map[string]map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{labelled: make(map[string]map[string]uint64)}
}

func (m *InMemoryRecorder) inc(family, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts, ok := m.labelled[family]
	if !ok {
		counts = make(map[string]uint64)
		m.labelled[family] = counts
	}
	counts[label]++
}

func (m *InMemoryRecorder) copyFamily(family string) map[string]uint64 {
	out := make(map[string]uint64, len(m.labelled[family]))
	for k, v := range m.labelled[family] {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Purchases:               m.copyFamily("purchase"),
		TicketsSold:             atomic.LoadUint64(&m.ticketsSold),
		PurchaseDurationCount:   atomic.LoadUint64(&m.purchaseDurationCount),
		PurchaseDurationTotalNs: atomic.LoadInt64(&m.purchaseDurationTotalNs),
		RoundsSettled:           atomic.LoadUint64(&m.roundsSettled),
		PayoutTotal:             atomic.LoadInt64(&m.payoutTotal),
		InvariantViolations:     atomic.LoadUint64(&m.invariantViolations),
		Deposits:                m.copyFamily("deposit"),
		Withdrawals:             m.copyFamily("withdrawal"),
		Reversals:               m.copyFamily("reversal"),
		EventsPublished:         m.copyFamily("event"),
		EventsConsumed:          m.copyFamily("event_consumed"),
	}
}

// IncPurchase counts a purchase attempt by outcome.
func (m *InMemoryRecorder) IncPurchase(outcome string) { m.inc("purchase", outcome) }

// AddTicketsSold adds to the sold ticket counter.
func (m *InMemoryRecorder) AddTicketsSold(n int) {
	atomic.AddUint64(&m.ticketsSold, uint64(n))
}

// ObservePurchaseDuration records purchase latency.
func (m *InMemoryRecorder) ObservePurchaseDuration(duration time.Duration) {
	atomic.AddUint64(&m.purchaseDurationCount, 1)
	atomic.AddInt64(&m.purchaseDurationTotalNs, duration.Nanoseconds())
}

// IncRoundSettled increments the settled rounds counter.
func (m *InMemoryRecorder) IncRoundSettled() {
	atomic.AddUint64(&m.roundsSettled, 1)
}

// ObservePayout adds a payout amount.
func (m *InMemoryRecorder) ObservePayout(amount int64) {
	atomic.AddInt64(&m.payoutTotal, amount)
}

// IncInvariantViolation increments the invariant violation counter.
func (m *InMemoryRecorder) IncInvariantViolation() {
	atomic.AddUint64(&m.invariantViolations, 1)
}

// IncDeposit counts a deposit by status.
func (m *InMemoryRecorder) IncDeposit(status string) { m.inc("deposit", status) }

// IncWithdrawal counts a withdrawal by status.
func (m *InMemoryRecorder) IncWithdrawal(status string) { m.inc("withdrawal", status) }

// IncReversal counts a compensating credit by reason.
func (m *InMemoryRecorder) IncReversal(reason string) { m.inc("reversal", reason) }

// IncEventPublished counts a stream publish by status.
func (m *InMemoryRecorder) IncEventPublished(status string) { m.inc("event", status) }

// IncEventConsumed counts a stream message handled by the consumer.
func (m *InMemoryRecorder) IncEventConsumed(status string) { m.inc("event_consumed", status) }
