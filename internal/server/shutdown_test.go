package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)

	var order []string
	sm.RegisterCloser("catalog", CloserFunc(func() error { order = append(order, "catalog"); return nil }))
	sm.RegisterCloser("http", CloserFunc(func() error { order = append(order, "http"); return nil }))
	started := false
	sm.OnShutdownStart(func() { started = true })

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"http", "catalog"}, order)
	assert.True(t, started)
	assert.True(t, sm.IsShuttingDown())

	// Only the first call does anything.
	require.NoError(t, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 2)

	select {
	case <-sm.ShutdownCh():
	default:
		t.Fatal("shutdown channel should be closed")
	}
}

func TestShutdown_ReportsFirstCloseError(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	sm.RegisterCloser("catalog", CloserFunc(func() error { return errors.New("first registered") }))
	sm.RegisterCloser("grpc", CloserFunc(func() error { return errors.New("last registered") }))

	err := sm.Shutdown(context.Background(), "test")
	assert.EqualError(t, err, "close grpc: last registered")
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 50 * time.Millisecond}, nil)
	require.True(t, sm.TrackRequest())
	assert.Equal(t, int64(1), sm.InFlightCount())

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 in-flight")
	assert.False(t, sm.TrackRequest())
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	var seen int64
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = sm.InFlightCount()
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(1), seen)
	assert.Equal(t, int64(0), sm.InFlightCount())

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"service is shutting down","code":"SHUTTING_DOWN"}`, rec.Body.String())
}

func TestListenForSignals_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	closed := false
	sm.RegisterCloser("store", CloserFunc(func() error { closed = true; return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.ListenForSignals(ctx))
	assert.True(t, closed)
	assert.True(t, sm.IsShuttingDown())
}

func TestListenForSignals_ReturnsAfterShutdown(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	done := make(chan error, 1)
	go func() { done <- sm.ListenForSignals(context.Background()) }()

	require.NoError(t, sm.Shutdown(context.Background(), "stop requested"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenForSignals did not return")
	}
}
