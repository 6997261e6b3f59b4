package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tikiti/tikiti/internal/model"
)

const sessionPrefix = "session:"

// cachedSession is the JSON form of a session stored in Redis.
type cachedSession struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	TokenPrefix string    `json:"token_prefix"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func encodeSession(s *model.AuthContext) ([]byte, error) {
	return json.Marshal(cachedSession{
		UserID:      s.UserID,
		Username:    s.Username,
		TokenPrefix: s.TokenPrefix,
		ExpiresAt:   s.ExpiresAt.UTC(),
	})
}

func decodeSession(data []byte) (*model.AuthContext, error) {
	var cached cachedSession
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &model.AuthContext{
		UserID:      cached.UserID,
		Username:    cached.Username,
		TokenPrefix: cached.TokenPrefix,
		ExpiresAt:   cached.ExpiresAt,
	}, nil
}

// SaveSession stores a session under the hash of its token until it expires.
func (c *Cache) SaveSession(ctx context.Context, tokenHash string, s *model.AuthContext) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := encodeSession(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return c.client.Set(ctx, sessionPrefix+tokenHash, data, ttl).Err()
}

// GetSession returns the session stored under tokenHash.
// Returns nil if not found.
func (c *Cache) GetSession(ctx context.Context, tokenHash string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, sessionPrefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	s, err := decodeSession(data)
	if err != nil {
		// Corrupted entry - treat as logged out
		return nil, nil //nolint:nilerr
	}
	return s, nil
}

// DeleteSession removes a session.
func (c *Cache) DeleteSession(ctx context.Context, tokenHash string) error {
	return c.client.Del(ctx, sessionPrefix+tokenHash).Err()
}

// MemorySessions is an in-process session store for tests and single-node
// development runs without Redis.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]model.AuthContext
	now      func() time.Time
}

// NewMemorySessions creates an empty MemorySessions.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions: make(map[string]model.AuthContext),
		now:      time.Now,
	}
}

// SaveSession stores a session.
func (m *MemorySessions) SaveSession(ctx context.Context, tokenHash string, s *model.AuthContext) error {
	if !s.ExpiresAt.After(m.now()) {
		return fmt.Errorf("session already expired")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = *s
	return nil
}

// GetSession returns a live session or nil.
func (m *MemorySessions) GetSession(ctx context.Context, tokenHash string) (*model.AuthContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	if !s.ExpiresAt.After(m.now()) {
		delete(m.sessions, tokenHash)
		return nil, nil
	}
	return &s, nil
}

// DeleteSession removes a session.
func (m *MemorySessions) DeleteSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}
