package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tikiti/tikiti/internal/model"
)

func TestSessionEncoding(t *testing.T) {
	t.Parallel()

	in := &model.AuthContext{
		UserID:      "01HZY",
		Username:    "alice",
		TokenPrefix: "7a9b3c1d",
		ExpiresAt:   time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := encodeSession(in)
	if err != nil {
		t.Fatalf("encodeSession failed: %v", err)
	}
	out, err := decodeSession(data)
	if err != nil {
		t.Fatalf("decodeSession failed: %v", err)
	}
	if *out != *in {
		t.Errorf("decoded = %+v, want %+v", out, in)
	}

	if _, err := decodeSession([]byte("{not json")); err == nil {
		t.Error("corrupt payload should fail to decode")
	}
}

func TestMemorySessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemorySessions()
	m.now = func() time.Time { return now }

	s := &model.AuthContext{UserID: "u1", Username: "alice", ExpiresAt: now.Add(time.Hour)}
	if err := m.SaveSession(ctx, "h1", s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := m.GetSession(ctx, "h1")
	if err != nil || got == nil {
		t.Fatalf("GetSession = %v, %v; want session", got, err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", got.UserID)
	}

	if got, _ := m.GetSession(ctx, "missing"); got != nil {
		t.Error("unknown hash should miss")
	}

	now = now.Add(2 * time.Hour)
	if got, _ := m.GetSession(ctx, "h1"); got != nil {
		t.Error("expired session should miss")
	}

	expired := &model.AuthContext{UserID: "u2", ExpiresAt: now.Add(-time.Second)}
	if err := m.SaveSession(ctx, "h2", expired); err == nil {
		t.Error("saving an expired session should fail")
	}
}

func TestMemorySessions_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemorySessions()
	s := &model.AuthContext{UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := m.SaveSession(ctx, "h1", s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := m.DeleteSession(ctx, "h1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if got, _ := m.GetSession(ctx, "h1"); got != nil {
		t.Error("deleted session should miss")
	}
}

func TestNewRejectsMalformedURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "memcached://localhost:11211")
	if err == nil {
		t.Fatal("New succeeded for a non-redis url")
	}
	if !strings.Contains(err.Error(), "parse redis url") {
		t.Errorf("error = %v, want parse redis url", err)
	}
}
