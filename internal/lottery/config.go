package lottery

import "fmt"

// RoundConfig holds the parameters a round is opened with. Limits of zero
// mean unlimited.
type RoundConfig struct {
	Capacity              int
	Price                 int64
	MaxTicketsPerUser     int
	MaxTicketsPerPurchase int
}

// DefaultRoundConfig returns 50 tickets at 50 with no per-user limits.
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{Capacity: 50, Price: 50}
}

// Validate checks the config can open a round.
func (c RoundConfig) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	case c.Price <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidConfig)
	case c.MaxTicketsPerUser < 0, c.MaxTicketsPerPurchase < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidConfig)
	}
	return nil
}
