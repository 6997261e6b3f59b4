package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// WinnersKey is a sorted set of recent winners scored by round id.
	WinnersKey = "winners:recent"

	// MaxWinners is how many winners the feed keeps.
	MaxWinners = 50
)

// Winner is one entry of the public winners feed.
type Winner struct {
	RoundID       int64     `json:"roundId"`
	Username      string    `json:"username"`
	WinningNumber int       `json:"winningNumber"`
	Payout        int64     `json:"payout"`
	SettledAt     time.Time `json:"settledAt"`
}

// WinnerFeed stores the most recent winners in Redis.
type WinnerFeed struct {
	redis *redis.Client
}

// NewWinnerFeed creates a WinnerFeed.
func NewWinnerFeed(client *redis.Client) *WinnerFeed {
	return &WinnerFeed{redis: client}
}

// Record adds w to the feed and trims it to MaxWinners. Recording the same
// round twice leaves a single entry.
func (f *WinnerFeed) Record(ctx context.Context, w Winner) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal winner: %w", err)
	}

	score := float64(w.RoundID)
	_, err = f.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		scoreStr := fmt.Sprintf("%d", w.RoundID)
		pipe.ZRemRangeByScore(ctx, WinnersKey, scoreStr, scoreStr)
		pipe.ZAdd(ctx, WinnersKey, redis.Z{Score: score, Member: string(data)})
		pipe.ZRemRangeByRank(ctx, WinnersKey, 0, -MaxWinners-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record winner: %w", err)
	}
	return nil
}

// Recent returns up to limit winners, newest round first.
func (f *WinnerFeed) Recent(ctx context.Context, limit int) ([]Winner, error) {
	if limit <= 0 || limit > MaxWinners {
		limit = MaxWinners
	}
	members, err := f.redis.ZRevRange(ctx, WinnersKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read winners: %w", err)
	}

	out := make([]Winner, 0, len(members))
	for _, m := range members {
		var w Winner
		if err := json.Unmarshal([]byte(m), &w); err != nil {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}
