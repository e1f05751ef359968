// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/store/memory"
	"github.com/staranto/swcache/internal/swcache"
)

var origin, _ = url.Parse("http://localhost:8080")

var assets = []string{"/", "/index.html", "/style.css"}

// site answers every path with its own name unless it is offline or the path
// is broken. While hold is set, requests for /slow block on it.
type site struct {
	offline atomic.Bool
	broken  atomic.Value
	gate    atomic.Value
	hold    atomic.Value
	held    atomic.Bool
}

func (s *site) Fetch(ctx context.Context, req *swcache.Request) (*swcache.Response, error) {
	if g, ok := s.gate.Load().(chan struct{}); ok && g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h, ok := s.hold.Load().(chan struct{}); ok && h != nil && req.URL.Path == "/slow" {
		s.held.Store(true)
		<-h
	}
	if s.offline.Load() {
		return nil, errors.New("offline")
	}
	if b, _ := s.broken.Load().(string); b == req.URL.Path {
		return &swcache.Response{Status: http.StatusInternalServerError, Header: http.Header{}}, nil
	}
	return &swcache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("page " + req.URL.Path)}, nil
}

// gatedStorage blocks cache listing while a gate is set, which holds
// activation in progress.
type gatedStorage struct {
	*memory.Storage
	gate atomic.Value
}

func (g *gatedStorage) Keys(ctx context.Context) ([]string, error) {
	if c, ok := g.gate.Load().(chan struct{}); ok && c != nil {
		<-c
	}
	return g.Storage.Keys(ctx)
}

func cfg(version string) swcache.Config {
	return swcache.Config{Version: version, CoreAssets: assets}
}

func navigate(t *testing.T, path string) *swcache.Request {
	t.Helper()
	req, err := swcache.NewRequest("GET", "http://localhost:8080"+path, swcache.ModeNavigate)
	require.NoError(t, err)
	return req
}

func TestHost_BeforeRegister(t *testing.T) {
	h := New(origin, memory.New(), &site{})
	assert.Equal(t, StateParsed, h.State())

	res, err := h.Fetch(context.Background(), navigate(t, "/"))
	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.Equal(t, swcache.SourcePassthrough, res.Source)
}

func TestHost_Register(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	_, err := storage.Open(ctx, "leftover")
	require.NoError(t, err)

	s := &site{}
	h := New(origin, storage, s)
	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))

	assert.Equal(t, StateActivated, h.State())
	assert.Equal(t, Status{State: "activated", Version: "gpt-cache-v1"}, h.Status())

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-cache-v1"}, keys)

	s.offline.Store(true)
	res, err := h.Fetch(ctx, navigate(t, "/unknown"))
	require.NoError(t, err)
	assert.Equal(t, swcache.SourceFallback, res.Source)
	assert.Equal(t, "page /index.html", string(res.Response.Body))
}

func TestHost_RegisterFails(t *testing.T) {
	ctx := context.Background()
	s := &site{}
	s.broken.Store("/style.css")
	h := New(origin, memory.New(), s)

	err := h.Register(ctx, cfg("gpt-cache-v1"))
	require.Error(t, err)
	assert.Equal(t, StateRedundant, h.State())

	res, err := h.Fetch(ctx, navigate(t, "/"))
	require.NoError(t, err)
	assert.False(t, res.Handled)

	// A later attempt can still succeed.
	s.broken.Store("")
	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))
	assert.Equal(t, StateActivated, h.State())
}

func TestHost_Update(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	h := New(origin, storage, &site{})

	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))
	require.NoError(t, h.Update(ctx, cfg("gpt-cache-v2")))

	assert.Equal(t, "gpt-cache-v2", h.Status().Version)
	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-cache-v2"}, keys)
}

func TestHost_FailedUpdateKeepsOldVersion(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	s := &site{}
	h := New(origin, storage, s)
	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))

	s.broken.Store("/index.html")
	err := h.Update(ctx, cfg("gpt-cache-v2"))
	require.Error(t, err)

	assert.Equal(t, Status{State: "activated", Version: "gpt-cache-v1"}, h.Status())

	ok, err := storage.Has(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	assert.True(t, ok)

	s.offline.Store(true)
	res, err := h.Fetch(ctx, navigate(t, "/style.css"))
	require.NoError(t, err)
	assert.Equal(t, swcache.SourceCache, res.Source)
}

func TestHost_OldVersionServesDuringInstall(t *testing.T) {
	ctx := context.Background()
	s := &site{}
	h := New(origin, memory.New(), s)
	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))

	gate := make(chan struct{})
	s.gate.Store(gate)

	done := make(chan error, 1)
	go func() { done <- h.Update(ctx, cfg("gpt-cache-v2")) }()

	require.Eventually(t, func() bool {
		return h.Status().Waiting == "gpt-cache-v2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Status{State: "activated", Version: "gpt-cache-v1", Waiting: "gpt-cache-v2"}, h.Status())

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, Status{State: "activated", Version: "gpt-cache-v2"}, h.Status())
}

func TestHost_FetchWaitsForActivation(t *testing.T) {
	ctx := context.Background()
	storage := &gatedStorage{Storage: memory.New()}
	h := New(origin, storage, &site{})

	gate := make(chan struct{})
	storage.gate.Store(gate)

	done := make(chan error, 1)
	go func() { done <- h.Register(ctx, cfg("gpt-cache-v1")) }()

	require.Eventually(t, func() bool {
		return h.State() == StateActivating
	}, time.Second, 5*time.Millisecond)

	fetched := make(chan swcache.FetchResult, 1)
	go func() {
		res, _ := h.Fetch(ctx, navigate(t, "/"))
		fetched <- res
	}()

	select {
	case <-fetched:
		t.Fatal("fetch completed while activation was in progress")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-done)

	select {
	case res := <-fetched:
		assert.True(t, res.Handled)
		assert.Equal(t, swcache.SourceNetwork, res.Source)
	case <-time.After(time.Second):
		t.Fatal("fetch never completed")
	}
	assert.Equal(t, StateActivated, h.State())
}

func TestHost_FetchCanceledWhileActivating(t *testing.T) {
	storage := &gatedStorage{Storage: memory.New()}
	h := New(origin, storage, &site{})

	gate := make(chan struct{})
	storage.gate.Store(gate)
	defer close(gate)

	go func() { _ = h.Register(context.Background(), cfg("gpt-cache-v1")) }()
	require.Eventually(t, func() bool {
		return h.State() == StateActivating
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Fetch(ctx, navigate(t, "/"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHost_UpdateWaitsForInFlightFetches(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	s := &site{}
	h := New(origin, storage, s)
	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))

	hold := make(chan struct{})
	s.hold.Store(hold)

	fetched := make(chan swcache.FetchResult, 1)
	go func() {
		res, _ := h.Fetch(ctx, navigate(t, "/slow"))
		fetched <- res
	}()
	require.Eventually(t, s.held.Load, time.Second, 5*time.Millisecond)

	updated := make(chan error, 1)
	go func() { updated <- h.Update(ctx, cfg("gpt-cache-v2")) }()

	require.Eventually(t, func() bool {
		return h.State() == StateActivating
	}, time.Second, 5*time.Millisecond)
	select {
	case err := <-updated:
		t.Fatalf("update finished while a v1 fetch was running: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(hold)
	res := <-fetched
	assert.Equal(t, swcache.SourceNetwork, res.Source)
	require.NoError(t, <-updated)

	// The v1 write-back landed before the sweep, so the sweep removed it.
	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-cache-v2"}, keys)
}

func TestHost_CanceledFetchStillDrains(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	s := &site{}
	h := New(origin, storage, s)
	require.NoError(t, h.Register(ctx, cfg("gpt-cache-v1")))

	hold := make(chan struct{})
	s.hold.Store(hold)

	// The caller gives up, but the handler keeps running and still writes
	// back into v1 when released.
	fctx, cancel := context.WithCancel(ctx)
	fetched := make(chan error, 1)
	go func() {
		_, err := h.Fetch(fctx, navigate(t, "/slow"))
		fetched <- err
	}()
	require.Eventually(t, s.held.Load, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-fetched, context.Canceled)

	updated := make(chan error, 1)
	go func() { updated <- h.Update(ctx, cfg("gpt-cache-v2")) }()
	select {
	case <-updated:
		t.Fatal("update finished before the abandoned fetch returned")
	case <-time.After(30 * time.Millisecond):
	}

	close(hold)
	require.NoError(t, <-updated)
	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-cache-v2"}, keys)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateParsed, "parsed"},
		{StateInstalling, "installing"},
		{StateInstalled, "installed"},
		{StateActivating, "activating"},
		{StateActivated, "activated"},
		{StateRedundant, "redundant"},
		{State(99), "state(99)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
