package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncPurchase(outcome string)                     {}
func (n *NoopRecorder) AddTicketsSold(count int)                       {}
func (n *NoopRecorder) ObservePurchaseDuration(duration time.Duration) {}
func (n *NoopRecorder) IncRoundSettled()                               {}
func (n *NoopRecorder) ObservePayout(amount int64)                     {}
func (n *NoopRecorder) IncInvariantViolation()                         {}
func (n *NoopRecorder) IncDeposit(status string)                       {}
func (n *NoopRecorder) IncWithdrawal(status string)                    {}
func (n *NoopRecorder) IncReversal(reason string)                      {}
func (n *NoopRecorder) IncEventPublished(status string)                {}
func (n *NoopRecorder) IncEventConsumed(status string)                 {}
