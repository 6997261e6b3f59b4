package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(http.NotFoundHandler(), Config{
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, logger)
}

func TestRunStopsWorkersThenComponents(t *testing.T) {
	srv := newTestServer()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	started := make(chan struct{})
	srv.Go("sweeper", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		record("sweeper")
		return ctx.Err()
	})
	srv.OnShutdown("postgres", func(ctx context.Context) error {
		record("postgres")
		return nil
	})
	srv.OnShutdown("redis", func(ctx context.Context) error {
		record("redis")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"sweeper", "redis", "postgres"}, order)
}

func TestRunReturnsWorkerFailure(t *testing.T) {
	srv := newTestServer()
	boom := errors.New("stream broken")
	srv.Go("events", func(ctx context.Context) error {
		return boom
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestShutdownErrorsAreReported(t *testing.T) {
	srv := newTestServer()
	failed := errors.New("close failed")
	srv.OnShutdown("cache", func(ctx context.Context) error { return failed })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.Run(ctx)
	assert.ErrorIs(t, err, failed)
}
