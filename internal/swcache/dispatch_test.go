// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package swcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/store/memory"
	"github.com/staranto/swcache/internal/swcache"
)

func TestDispatch_Lifecycle(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	_, err := storage.Open(ctx, "stale")
	require.NoError(t, err)

	s := newSite(shellPages())
	m := newManager(t, swcache.Config{}, storage, s)

	_, err = m.Dispatch(ctx, swcache.Event{Kind: swcache.EventInstall}).Wait(ctx)
	require.NoError(t, err)

	res, err := m.Dispatch(ctx, swcache.Event{Kind: swcache.EventActivate}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, res.Deleted)

	s.offline.Store(true)
	res, err = m.Dispatch(ctx, swcache.Event{
		Kind:    swcache.EventFetch,
		Request: request(t, m, "/search.js", swcache.ModeNoCORS),
	}).Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Fetch.Handled)
	assert.Equal(t, swcache.SourceCache, res.Fetch.Source)
}

func TestDispatch_Errors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, swcache.Config{}, memory.New(), newSite(nil))

	tests := []struct {
		name string
		ev   swcache.Event
	}{
		{name: "unknown kind", ev: swcache.Event{Kind: swcache.EventKind(42)}},
		{name: "fetch without request", ev: swcache.Event{Kind: swcache.EventFetch}},
		{name: "install failure", ev: swcache.Event{Kind: swcache.EventInstall}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Dispatch(ctx, tt.ev).Wait(ctx)
			assert.Error(t, err)
		})
	}
}

func TestCompletion_WaitsForHandler(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	f := swcache.FetcherFunc(func(ctx context.Context, req *swcache.Request) (*swcache.Response, error) {
		<-release
		return &swcache.Response{Status: 200, Body: []byte("ok")}, nil
	})
	m := newManager(t, swcache.Config{CoreAssets: []string{"/"}}, memory.New(), f)

	c := m.Dispatch(ctx, swcache.Event{Kind: swcache.EventInstall})

	select {
	case <-c.Done():
		t.Fatal("completion resolved before the handler finished")
	case <-time.After(20 * time.Millisecond):
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = c.Wait(ctx)
	assert.NoError(t, err)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "install", swcache.EventInstall.String())
	assert.Equal(t, "activate", swcache.EventActivate.String())
	assert.Equal(t, "fetch", swcache.EventFetch.String())
	assert.Equal(t, "event(9)", swcache.EventKind(9).String())
}
