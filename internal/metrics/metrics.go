// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Purchase metrics
	IncPurchase(outcome string) // outcome: "success", "replayed", "sold_out", "insufficient_funds", "rejected", "error"
	AddTicketsSold(n int)
	ObservePurchaseDuration(duration time.Duration)

	// Round lifecycle metrics
	IncRoundSettled()
	ObservePayout(amount int64)
	IncInvariantViolation()

	// Payment metrics
	IncDeposit(status string)    // status: "success", "replayed", "failed"
	IncWithdrawal(status string) // status: "pending", "confirmed", "replayed", "failed"
	IncReversal(reason string)   // reason: "payout_failed", "payout_timeout", "purchase_aborted"

	// Event stream metrics
	IncEventPublished(status string) // status: "success" or "dropped"
	IncEventConsumed(status string)  // status: "success", "skipped", "failed", "dead_lettered"
}
