package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	purchases           *prometheus.CounterVec
	ticketsSold         prometheus.Counter
	purchaseDuration    prometheus.Histogram
	roundsSettled       prometheus.Counter
	payouts             prometheus.Counter
	invariantViolations prometheus.Counter
	deposits            *prometheus.CounterVec
	withdrawals         *prometheus.CounterVec
	reversals           *prometheus.CounterVec
	events              *prometheus.CounterVec
	consumed            *prometheus.CounterVec
}

// NewPrometheus registers the application's collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		purchases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Ticket purchase requests by outcome",
		}, []string{"outcome"}),
		ticketsSold: f.NewCounter(prometheus.CounterOpts{
			Name: "tickets_sold_total",
			Help: "Tickets issued across all rounds",
		}),
		purchaseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticket_purchase_duration_ms",
			Help:    "Ticket purchase processing duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		roundsSettled: f.NewCounter(prometheus.CounterOpts{
			Name: "rounds_settled_total",
			Help: "Rounds settled with a winner",
		}),
		payouts: f.NewCounter(prometheus.CounterOpts{
			Name: "payouts_minor_units_total",
			Help: "Prize money credited to winners in minor units",
		}),
		invariantViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "invariant_violations_total",
			Help: "Rounds aborted because more tickets were sold than exist",
		}),
		deposits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deposits_total",
			Help: "Deposit requests by status",
		}, []string{"status"}),
		withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawals_total",
			Help: "Withdrawal requests by status",
		}, []string{"status"}),
		reversals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reversals_total",
			Help: "Compensating credits by reason",
		}, []string{"reason"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "round_events_published_total",
			Help: "Round events written to the Redis stream by status",
		}, []string{"status"}),
		consumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "round_events_consumed_total",
			Help: "Round events handled by the winners feed consumer by status",
		}, []string{"status"}),
	}
}

func (p *PrometheusRecorder) IncPurchase(outcome string) {
	p.purchases.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) AddTicketsSold(n int) {
	p.ticketsSold.Add(float64(n))
}

func (p *PrometheusRecorder) ObservePurchaseDuration(duration time.Duration) {
	p.purchaseDuration.Observe(float64(duration.Milliseconds()))
}

func (p *PrometheusRecorder) IncRoundSettled() { p.roundsSettled.Inc() }

func (p *PrometheusRecorder) ObservePayout(amount int64) {
	p.payouts.Add(float64(amount))
}

func (p *PrometheusRecorder) IncInvariantViolation() { p.invariantViolations.Inc() }

func (p *PrometheusRecorder) IncDeposit(status string) {
	p.deposits.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncWithdrawal(status string) {
	p.withdrawals.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncReversal(reason string) {
	p.reversals.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncEventPublished(status string) {
	p.events.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncEventConsumed(status string) {
	p.consumed.WithLabelValues(status).Inc()
}

// Fanout forwards every event to all recorders.
type Fanout []Recorder

func (f Fanout) IncPurchase(outcome string) {
	for _, r := range f {
		r.IncPurchase(outcome)
	}
}

func (f Fanout) AddTicketsSold(n int) {
	for _, r := range f {
		r.AddTicketsSold(n)
	}
}

func (f Fanout) ObservePurchaseDuration(duration time.Duration) {
	for _, r := range f {
		r.ObservePurchaseDuration(duration)
	}
}

func (f Fanout) IncRoundSettled() {
	for _, r := range f {
		r.IncRoundSettled()
	}
}

func (f Fanout) ObservePayout(amount int64) {
	for _, r := range f {
		r.ObservePayout(amount)
	}
}

func (f Fanout) IncInvariantViolation() {
	for _, r := range f {
		r.IncInvariantViolation()
	}
}

func (f Fanout) IncDeposit(status string) {
	for _, r := range f {
		r.IncDeposit(status)
	}
}

func (f Fanout) IncWithdrawal(status string) {
	for _, r := range f {
		r.IncWithdrawal(status)
	}
}

func (f Fanout) IncReversal(reason string) {
	for _, r := range f {
		r.IncReversal(reason)
	}
}

func (f Fanout) IncEventPublished(status string) {
	for _, r := range f {
		r.IncEventPublished(status)
	}
}

func (f Fanout) IncEventConsumed(status string) {
	for _, r := range f {
		r.IncEventConsumed(status)
	}
}
