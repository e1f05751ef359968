// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/store/storetest"
	"github.com/staranto/swcache/internal/swcache"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) swcache.Storage { return New() })
}

func TestCache_KeysInsertionOrder(t *testing.T) {
	ctx := context.Background()
	cache, err := New().Open(ctx, "v1")
	require.NoError(t, err)

	urls := []string{
		"http://localhost:8080/c",
		"http://localhost:8080/a",
		"http://localhost:8080/b",
	}
	for _, u := range urls {
		require.NoError(t, cache.Put(ctx, storetest.Request(t, "GET", u), storetest.Response("text/plain", u)))
	}

	entries, err := cache.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, u := range urls {
		assert.Equal(t, u, entries[i].URL)
	}
}

func TestCache_MatchReturnsCopy(t *testing.T) {
	ctx := context.Background()
	cache, err := New().Open(ctx, "v1")
	require.NoError(t, err)

	req := storetest.Request(t, "GET", "http://localhost:8080/")
	resp := storetest.Response("text/html", "shell")
	require.NoError(t, cache.Put(ctx, req, resp))
	resp.Body[0] = 'X'

	got, ok, err := cache.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	got.Body[1] = 'X'

	again, _, err := cache.Match(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "shell", string(again.Body))
}

func TestCache_ConcurrentPut(t *testing.T) {
	ctx := context.Background()
	cache, err := New().Open(ctx, "v1")
	require.NoError(t, err)
	req := storetest.Request(t, "GET", "http://localhost:8080/app.js")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cache.Put(ctx, req, storetest.Response("text/javascript", "js")))
		}()
	}
	wg.Wait()

	entries, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
