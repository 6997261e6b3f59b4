package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tikiti/tikiti/internal/metrics"
	"github.com/tikiti/tikiti/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group that maintains the winners feed.
	ConsumerGroup = "winner_feed"

	// DeadLetterStreamKey receives events the consumer cannot parse.
	DeadLetterStreamKey = "stream:round_events:dead"

	// DefaultBatchSize is the max events per read.
	DefaultBatchSize = 100

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultClaimIdle is the idle time before another consumer's pending
	// messages are reclaimed.
	DefaultClaimIdle = 30 * time.Second
)

var errMalformedEvent = errors.New("malformed round event")

// UserLookup resolves winner ids to accounts.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Consumer reads round events from the stream and feeds settled rounds into
// the WinnerFeed.
type Consumer struct {
	redis        *redis.Client
	feed         *WinnerFeed
	users        UserLookup
	logger       *slog.Logger
	metrics      metrics.Recorder
	consumerID   string
	batchSize    int
	blockTimeout time.Duration
	claimIdle    time.Duration
	claimStartID string
}

// NewConsumer creates a Consumer.
func NewConsumer(client *redis.Client, feed *WinnerFeed, users UserLookup, recorder metrics.Recorder, logger *slog.Logger) *Consumer {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := NewConsumerID()
	return &Consumer{
		redis:        client,
		feed:         feed,
		users:        users,
		logger:       logger.With("component", "events.consumer", "consumer_id", id),
		metrics:      recorder,
		consumerID:   id,
		batchSize:    DefaultBatchSize,
		blockTimeout: DefaultBlockTimeout,
		claimIdle:    DefaultClaimIdle,
		claimStartID: "0-0",
	}
}

// NewConsumerID creates a consumer name unique to this process.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tikiti"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	for {
		if err := c.processOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("process_failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) ensureConsumerGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// processOnce handles one batch: reclaimed messages first, then new ones.
func (c *Consumer) processOnce(ctx context.Context) error {
	messages, err := c.claimPending(ctx)
	if err != nil {
		c.logger.Warn("claim_pending_failed", "error", err)
	}
	if len(messages) == 0 {
		messages, err = c.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	for _, msg := range messages {
		if err := c.handle(ctx, msg); err != nil {
			// Left pending; reclaimed after DefaultClaimIdle.
			c.metrics.IncEventConsumed("failed")
			return err
		}
		if err := c.redis.XAck(ctx, StreamKey, ConsumerGroup, msg.ID).Err(); err != nil {
			return fmt.Errorf("xack: %w", err)
		}
	}
	return nil
}

func (c *Consumer) claimPending(ctx context.Context) ([]redis.XMessage, error) {
	messages, start, err := c.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: c.consumerID,
		MinIdle:  c.claimIdle,
		Start:    c.claimStartID,
		Count:    int64(c.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		c.claimStartID = start
	}
	return messages, nil
}

func (c *Consumer) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: c.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(c.batchSize),
		Block:    c.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return streams[0].Messages, nil
}

// handle applies one message. Malformed messages are dead-lettered and
// reported as handled.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	event, err := DecodeMessage(msg.Values)
	if err != nil {
		c.deadLetter(ctx, msg, err)
		return nil
	}
	if event.Type != TypeRoundSettled {
		c.metrics.IncEventConsumed("skipped")
		return nil
	}

	user, err := c.users.GetUserByID(ctx, event.WinnerID)
	if err != nil {
		return fmt.Errorf("look up winner of round %d: %w", event.RoundID, err)
	}
	winner := Winner{
		RoundID:       event.RoundID,
		Username:      user.Username,
		WinningNumber: event.WinningNumber,
		Payout:        event.Payout,
		SettledAt:     time.UnixMilli(event.OccurredAt).UTC(),
	}
	if err := c.feed.Record(ctx, winner); err != nil {
		return err
	}
	c.metrics.IncEventConsumed("success")
	c.logger.Info("winner_recorded", "round_id", event.RoundID, "winning_number", event.WinningNumber)
	return nil
}

// DecodeMessage parses the fields written by Encode.
func DecodeMessage(values map[string]interface{}) (RoundEvent, error) {
	var event RoundEvent
	payload, ok := values["payload"].(string)
	if !ok {
		return event, fmt.Errorf("%w: payload missing", errMalformedEvent)
	}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if event.Type == "" || event.RoundID < 1 {
		return event, fmt.Errorf("%w: type and round_id are required", errMalformedEvent)
	}
	if event.Type == TypeRoundSettled && (event.WinnerID == "" || event.WinningNumber < 1) {
		return event, fmt.Errorf("%w: settled event without winner", errMalformedEvent)
	}
	return event, nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, cause error) {
	c.logger.Warn("dead_lettering_event", "message_id", msg.ID, "error", cause)
	err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"reason":           cause.Error(),
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		c.logger.Error("dead_letter_failed", "message_id", msg.ID, "error", err)
	}
	c.metrics.IncEventConsumed("dead_lettered")
}
