package gateway

import (
	"math/rand"
	"time"
)

// Delays between payout status checks. The last one repeats until the
// payout is confirmed or overdue.
var checkDelays = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
}

// JitterFactor is the ±percentage of jitter applied to delays.
const JitterFactor = 0.2

// NextCheckDelay returns the wait before status check number attempt+1,
// with ±20% jitter so pending payouts do not all poll at once.
func NextCheckDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(checkDelays) {
		attempt = len(checkDelays) - 1
	}

	base := checkDelays[attempt]
	jitterRange := float64(base) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(base) + jitter)
}
