// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package storetest is the behavior every swcache.Storage must share. Store
// packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/swcache"
)

// Run exercises a fresh Storage from newStorage for every subtest.
func Run(t *testing.T, newStorage func(t *testing.T) swcache.Storage) {
	t.Helper()

	t.Run("caches", func(t *testing.T) { testCaches(t, newStorage(t)) })
	t.Run("put and match", func(t *testing.T) { testPutMatch(t, newStorage(t)) })
	t.Run("last write wins", func(t *testing.T) { testOverwrite(t, newStorage(t)) })
	t.Run("concurrent writes", func(t *testing.T) { testConcurrentPut(t, newStorage(t)) })
	t.Run("get only", func(t *testing.T) { testGetOnly(t, newStorage(t)) })
	t.Run("entries", func(t *testing.T) { testEntries(t, newStorage(t)) })
	t.Run("isolation", func(t *testing.T) { testIsolation(t, newStorage(t)) })
}

// Request builds a request for rawURL or fails the test.
func Request(t *testing.T, method string, rawURL string) *swcache.Request {
	t.Helper()
	req, err := swcache.NewRequest(method, rawURL, swcache.ModeNoCORS)
	require.NoError(t, err)
	return req
}

// Response builds a 200 response with the given content type and body.
func Response(contentType string, body string) *swcache.Response {
	return &swcache.Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       []byte(body),
		URL:        "http://localhost:8080/final",
	}
}

func testCaches(t *testing.T, s swcache.Storage) {
	ctx := context.Background()

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	ok, err := s.Has(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, name := range []string{"gpt-cache-v1", "gpt-cache-v2"} {
		_, err := s.Open(ctx, name)
		require.NoError(t, err)
	}
	// Opening again must not create a duplicate.
	_, err = s.Open(ctx, "gpt-cache-v1")
	require.NoError(t, err)

	ok, err = s.Has(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-cache-v1", "gpt-cache-v2"}, keys)

	deleted, err := s.Delete(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err = s.Has(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-cache-v2"}, keys)
}

func testPutMatch(t *testing.T, s swcache.Storage) {
	ctx := context.Background()
	cache, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	req := Request(t, "GET", "http://localhost:8080/style.css")
	require.NoError(t, cache.Put(ctx, req, Response("text/css", "body { }")))

	got, ok, err := cache.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "OK", got.StatusText)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, "body { }", string(got.Body))
	assert.Equal(t, "http://localhost:8080/final", got.URL)

	// Fragments do not change identity.
	_, ok, err = cache.Match(ctx, Request(t, "GET", "http://localhost:8080/style.css#x"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = cache.Match(ctx, Request(t, "GET", "http://localhost:8080/style.css?v=2"))
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := cache.Delete(ctx, req)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = cache.Match(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = cache.Delete(ctx, req)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testOverwrite(t *testing.T, s swcache.Storage) {
	ctx := context.Background()
	cache, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	req := Request(t, "GET", "http://localhost:8080/")
	require.NoError(t, cache.Put(ctx, req, Response("text/html", "first")))
	require.NoError(t, cache.Put(ctx, req, Response("text/html", "second")))

	got, ok, err := cache.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(got.Body))

	entries, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// testConcurrentPut races writers on one key. Whichever write wins, the
// record and the body must come from the same write.
func testConcurrentPut(t *testing.T, s swcache.Storage) {
	ctx := context.Background()
	cache, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	const writers = 3
	req := Request(t, "GET", "http://localhost:8080/about")
	for round := range 20 {
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := Response("text/html", fmt.Sprintf("round %d writer %d", round, i))
				resp.Status = http.StatusOK + i
				assert.NoError(t, cache.Put(ctx, req, resp))
			}()
		}
		wg.Wait()

		got, ok, err := cache.Match(ctx, req)
		require.NoError(t, err)
		require.True(t, ok, "round %d", round)
		assert.Equal(t, fmt.Sprintf("round %d writer %d", round, got.Status-http.StatusOK), string(got.Body),
			"round %d: record and body from different writes", round)
	}

	entries, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testGetOnly(t *testing.T, s swcache.Storage) {
	ctx := context.Background()
	cache, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	post := Request(t, "POST", "http://localhost:8080/api")
	err = cache.Put(ctx, post, Response("application/json", "{}"))
	assert.True(t, errors.Is(err, swcache.ErrNotCacheable))

	_, ok, err := cache.Match(ctx, post)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testEntries(t *testing.T, s swcache.Storage) {
	ctx := context.Background()
	cache, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, Request(t, "GET", "http://localhost:8080/index.html"), Response("text/html", "<html></html>")))
	require.NoError(t, cache.Put(ctx, Request(t, "GET", "http://localhost:8080/favicon.ico"), Response("image/x-icon", "ico")))

	entries, err := cache.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byURL := map[string]swcache.Entry{}
	for _, e := range entries {
		byURL[e.URL] = e
	}

	html := byURL["http://localhost:8080/index.html"]
	assert.Equal(t, "GET http://localhost:8080/index.html", html.Key)
	assert.Equal(t, "GET", html.Method)
	assert.Equal(t, http.StatusOK, html.Status)
	assert.Equal(t, "text/html", html.ContentType)
	assert.Equal(t, int64(13), html.Size)
	assert.False(t, html.StoredAt.IsZero())

	assert.Equal(t, "image/x-icon", byURL["http://localhost:8080/favicon.ico"].ContentType)
}

func testIsolation(t *testing.T, s swcache.Storage) {
	ctx := context.Background()
	a, err := s.Open(ctx, "a")
	require.NoError(t, err)
	b, err := s.Open(ctx, "b")
	require.NoError(t, err)

	req := Request(t, "GET", "http://localhost:8080/search.js")
	require.NoError(t, a.Put(ctx, req, Response("text/javascript", "js")))

	_, ok, err := b.Match(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Delete(ctx, "a")
	require.NoError(t, err)

	// A reopened cache starts empty.
	a, err = s.Open(ctx, "a")
	require.NoError(t, err)
	_, ok, err = a.Match(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)
}
