// Package events publishes round lifecycle events to a Redis stream so other
// services can follow draws without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tikiti/tikiti/internal/metrics"
)

const (
	// StreamKey is the Redis stream for round events.
	StreamKey = "stream:round_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 10000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 500 * time.Millisecond
)

// Event types.
const (
	TypeRoundOpened  = "round_opened"
	TypeRoundSettled = "round_settled"
	TypeRoundAborted = "round_aborted"
)

// RoundEvent is the payload written to the stream.
type RoundEvent struct {
	Type           string `json:"type"`
	RoundID        int64  `json:"round_id"`
	Capacity       int    `json:"capacity,omitempty"`
	Price          int64  `json:"price,omitempty"`
	SeedCommitment string `json:"seed_commitment,omitempty"`
	Seed           string `json:"seed,omitempty"`
	WinningNumber  int    `json:"winning_number,omitempty"`
	WinnerID       string `json:"winner_id,omitempty"`
	Payout         int64  `json:"payout,omitempty"`
	OccurredAt     int64  `json:"t"` // Unix milliseconds
}

// Publisher appends round events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new round event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "events.publisher"),
		metrics: recorder,
	}
}

// Encode renders the stream fields for an event.
func Encode(event RoundEvent) (map[string]interface{}, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type":    event.Type,
		"payload": string(data),
	}, nil
}

// Publish adds a round event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event RoundEvent) (string, error) {
	values, err := Encode(event)
	if err != nil {
		return "", err
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event RoundEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish round event",
				"type", event.Type,
				"round_id", event.RoundID,
				"error", err,
			)
			p.metrics.IncEventPublished("dropped")
			return
		}

		p.logger.Debug("round event published",
			"type", event.Type,
			"round_id", event.RoundID,
			"stream_id", streamID,
		)
		p.metrics.IncEventPublished("success")
	}()
}
