//go:build integration

package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tikiti/tikiti/internal/metrics"
	"github.com/tikiti/tikiti/internal/model"
	"github.com/tikiti/tikiti/internal/testutil"
)

type stubUsers map[string]string

func (s stubUsers) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	name, ok := s[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return &model.User{ID: id, Username: name}, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(testutil.RequireEnv(t, "REDIS_URL"))
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	if err := testutil.FlushRedis(context.Background(), client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

func TestIntegrationConsumerRecordsWinners(t *testing.T) {
	client := newTestRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewInMemory()

	publisher := NewPublisher(client, logger, recorder)
	feed := NewWinnerFeed(client)
	consumer := NewConsumer(client, feed, stubUsers{"u1": "alice", "u2": "bob"}, recorder, logger)
	consumer.blockTimeout = 100 * time.Millisecond

	ctx := context.Background()
	if err := consumer.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensureConsumerGroup() error = %v", err)
	}

	events := []RoundEvent{
		{Type: TypeRoundOpened, RoundID: 1, Capacity: 5, Price: 50},
		{Type: TypeRoundSettled, RoundID: 1, WinnerID: "u1", WinningNumber: 3, Payout: 225, OccurredAt: time.Now().UnixMilli()},
		{Type: TypeRoundSettled, RoundID: 2, WinnerID: "u2", WinningNumber: 5, Payout: 225, OccurredAt: time.Now().UnixMilli()},
		// Redelivery of round 2 must not duplicate the entry.
		{Type: TypeRoundSettled, RoundID: 2, WinnerID: "u2", WinningNumber: 5, Payout: 225, OccurredAt: time.Now().UnixMilli()},
	}
	for _, e := range events {
		if _, err := publisher.Publish(ctx, e); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if _, err := client.XAdd(ctx, &redis.XAddArgs{Stream: StreamKey, Values: map[string]interface{}{"junk": "1"}}).Result(); err != nil {
		t.Fatalf("XAdd() error = %v", err)
	}

	if err := consumer.processOnce(ctx); err != nil {
		t.Fatalf("processOnce() error = %v", err)
	}

	winners, err := feed.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(winners) != 2 {
		t.Fatalf("Recent() returned %d winners, want 2: %+v", len(winners), winners)
	}
	if winners[0].RoundID != 2 || winners[0].Username != "bob" {
		t.Errorf("newest winner = %+v, want round 2 won by bob", winners[0])
	}
	if winners[1].RoundID != 1 || winners[1].Username != "alice" {
		t.Errorf("older winner = %+v, want round 1 won by alice", winners[1])
	}

	dead, err := client.XLen(ctx, DeadLetterStreamKey).Result()
	if err != nil || dead != 1 {
		t.Errorf("dead letter length = %d, %v; want 1", dead, err)
	}

	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("XPending() error = %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0", pending.Count)
	}

	snap := recorder.Snapshot()
	if snap.EventsConsumed["success"] != 3 || snap.EventsConsumed["skipped"] != 1 {
		t.Errorf("consumed counters = %v", snap.EventsConsumed)
	}
}

func TestIntegrationConsumerLeavesFailedEventsPending(t *testing.T) {
	client := newTestRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := NewWinnerFeed(client)
	consumer := NewConsumer(client, feed, stubUsers{}, nil, logger)
	consumer.blockTimeout = 100 * time.Millisecond

	ctx := context.Background()
	if err := consumer.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensureConsumerGroup() error = %v", err)
	}
	publisher := NewPublisher(client, logger, nil)
	if _, err := publisher.Publish(ctx, RoundEvent{Type: TypeRoundSettled, RoundID: 1, WinnerID: "ghost", WinningNumber: 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if err := consumer.processOnce(ctx); err == nil {
		t.Fatal("processOnce() should fail when the winner cannot be resolved")
	}

	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("XPending() error = %v", err)
	}
	if pending.Count != 1 {
		t.Errorf("pending = %d, want 1", pending.Count)
	}
}

func TestIntegrationRunStopsOnCancel(t *testing.T) {
	client := newTestRedis(t)
	consumer := NewConsumer(client, NewWinnerFeed(client), stubUsers{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	consumer.blockTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop")
	}
}
