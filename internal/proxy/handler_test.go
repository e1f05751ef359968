// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/fetch"
	"github.com/staranto/swcache/internal/store/memory"
	"github.com/staranto/swcache/internal/swcache"
	"github.com/staranto/swcache/internal/worker"
)

type fixture struct {
	origin  *httptest.Server
	proxy   *httptest.Server
	host    *worker.Host
	storage *memory.Storage
	offline *atomic.Bool
	posts   *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{offline: &atomic.Bool{}, posts: &atomic.Int32{}}
	f.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			f.posts.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, "created")
			return
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "origin "+r.URL.Path)
	}))
	t.Cleanup(f.origin.Close)

	originURL, err := url.Parse(f.origin.URL)
	require.NoError(t, err)

	live := fetch.NewHTTP()
	fetcher := swcache.FetcherFunc(func(ctx context.Context, req *swcache.Request) (*swcache.Response, error) {
		if f.offline.Load() {
			return nil, errors.New("offline")
		}
		return live.Fetch(ctx, req)
	})

	f.storage = memory.New()
	f.host = worker.New(originURL, f.storage, fetcher)
	f.proxy = httptest.NewServer(New(f.host, originURL, f.storage))
	t.Cleanup(f.proxy.Close)
	return f
}

func (f *fixture) register(t *testing.T, assets ...string) {
	t.Helper()
	require.NoError(t, f.host.Register(context.Background(), swcache.Config{Version: "gpt-cache-v1", CoreAssets: assets}))
}

func (f *fixture) get(t *testing.T, path string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.proxy.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

var navigate = map[string]string{"Sec-Fetch-Mode": "navigate"}

func TestHandler_PassthroughBeforeRegister(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/style.css", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "origin /style.css", body)
	assert.Empty(t, resp.Header.Get(SourceHeader))
}

func TestHandler_Navigation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/", "/index.html")

	resp, body := f.get(t, "/about", navigate)
	assert.Equal(t, "network", resp.Header.Get(SourceHeader))
	assert.Equal(t, "origin /about", body)

	f.offline.Store(true)

	resp, body = f.get(t, "/about", navigate)
	assert.Equal(t, "cache", resp.Header.Get(SourceHeader))
	assert.Equal(t, "origin /about", body)

	resp, body = f.get(t, "/never-seen", navigate)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fallback", resp.Header.Get(SourceHeader))
	assert.Equal(t, "origin /index.html", body)
}

func TestHandler_NavigationWithoutFallback(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/")
	f.offline.Store(true)

	resp, _ := f.get(t, "/about", navigate)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandler_Static(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/style.css")

	resp, body := f.get(t, "/style.css", nil)
	assert.Equal(t, "cache", resp.Header.Get(SourceHeader))
	assert.Equal(t, "origin /style.css", body)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	resp, _ = f.get(t, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "network", resp.Header.Get(SourceHeader))

	f.offline.Store(true)
	resp, body = f.get(t, "/app.js", nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "offline", resp.Header.Get(SourceHeader))
	assert.Empty(t, body)
}

func TestHandler_NonGETProxied(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/")
	f.offline.Store(true)

	resp, err := http.Post(f.proxy.URL+"/api/items", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", string(body))
	assert.Empty(t, resp.Header.Get(SourceHeader))
	assert.Equal(t, int32(1), f.posts.Load())
}

func TestHandler_Status(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/")

	resp, body := f.get(t, StatusPath, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	assert.Equal(t, "activated", doc["state"])
	assert.Equal(t, "gpt-cache-v1", doc["version"])
	assert.Equal(t, []any{"gpt-cache-v1"}, doc["caches"])
}

func TestRequestMode(t *testing.T) {
	tests := []struct {
		name   string
		method string
		header map[string]string
		want   swcache.Mode
	}{
		{
			name:   "sec-fetch-mode wins",
			method: http.MethodGet,
			header: map[string]string{"Sec-Fetch-Mode": "Navigate", "Accept": "image/png"},
			want:   swcache.ModeNavigate,
		},
		{
			name:   "sec-fetch-mode cors",
			method: http.MethodGet,
			header: map[string]string{"Sec-Fetch-Mode": "cors"},
			want:   swcache.ModeCORS,
		},
		{
			name:   "html accept",
			method: http.MethodGet,
			header: map[string]string{"Accept": "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"},
			want:   swcache.ModeNavigate,
		},
		{
			name:   "html accept with params",
			method: http.MethodGet,
			header: map[string]string{"Accept": "text/html; charset=utf-8"},
			want:   swcache.ModeNavigate,
		},
		{
			name:   "html not first",
			method: http.MethodGet,
			header: map[string]string{"Accept": "application/json, text/html"},
			want:   swcache.ModeNoCORS,
		},
		{
			name:   "post with html accept",
			method: http.MethodPost,
			header: map[string]string{"Accept": "text/html"},
			want:   swcache.ModeNoCORS,
		},
		{
			name:   "no headers",
			method: http.MethodGet,
			want:   swcache.ModeNoCORS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, RequestMode(r))
		})
	}
}

func TestHandler_ToRequestKeepsEscapedPath(t *testing.T) {
	var seen atomic.Value
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.EscapedPath())
	}))
	t.Cleanup(origin.Close)
	base, err := url.Parse(origin.URL)
	require.NoError(t, err)
	h := &Handler{origin: base}

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"encoded slash", "/docs/a%2Fb/index.html?v=1", "/docs/a%2Fb/index.html?v=1"},
		{"plain", "/style.css", "/style.css"},
		{"encoded space", "/my%20page", "/my%20page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.toRequest(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, origin.URL+tt.want, req.URL.String())

			_, err := fetch.NewHTTP().Fetch(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, strings.SplitN(tt.want, "?", 2)[0], seen.Load())
		})
	}

	slash := h.toRequest(httptest.NewRequest(http.MethodGet, "/a%2Fb", nil))
	nested := h.toRequest(httptest.NewRequest(http.MethodGet, "/a/b", nil))
	assert.NotEqual(t, slash.Key(), nested.Key())
}
