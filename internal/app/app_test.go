package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"file-service/internal/config"
	"file-service/internal/messaging"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *App {
	router := chi.NewRouter()
	bgCtx, stop := context.WithCancel(context.Background())
	return &App{
		config:   &config.Config{Server: config.ServerConfig{Port: "0"}},
		router:   router,
		server:   &http.Server{Addr: ":0", Handler: router},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		producer: messaging.NoopProducer{},
		bgCtx:    bgCtx,
		stop:     stop,
	}
}

func TestShutdownWhileRunStarts(t *testing.T) {
	a := newTestApp()

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Error(t, a.bgCtx.Err(), "background work is cancelled")
}

func TestShutdownWithoutRun(t *testing.T) {
	a := newTestApp()
	assert.NoError(t, a.Shutdown(context.Background()))
}
