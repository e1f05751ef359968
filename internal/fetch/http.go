// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package fetch performs the live network requests the cache manager falls
// back to.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/staranto/swcache/internal/swcache"
)

// hopHeaders are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	// Dropped so the transport negotiates and decodes compression itself.
	"Accept-Encoding",
}

// HTTP fetches over net/http.
type HTTP struct {
	client    *http.Client
	userAgent string
}

// Option customizes an HTTP fetcher.
type Option func(*HTTP)

// WithTimeout bounds each fetch. Zero, the default, means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) { h.client.Timeout = d }
}

// WithClient replaces the underlying client.
func WithClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

// WithUserAgent sets the User-Agent used when the request carries none.
func WithUserAgent(ua string) Option {
	return func(h *HTTP) { h.userAgent = ua }
}

// NewHTTP returns an HTTP fetcher.
func NewHTTP(opts ...Option) *HTTP {
	h := &HTTP{client: &http.Client{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch implements swcache.Fetcher. Every HTTP status is a response; only a
// transport failure is an error.
func (h *HTTP) Fetch(ctx context.Context, req *swcache.Request) (*swcache.Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			hreq.Header.Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		hreq.Header.Del(k)
	}
	if hreq.Header.Get("User-Agent") == "" && h.userAgent != "" {
		hreq.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	log.Debugf("fetched %s %s: %d (%d bytes)", req.Method, req.URL, resp.StatusCode, body.Len())

	header := resp.Header.Clone()
	for _, k := range hopHeaders {
		header.Del(k)
	}

	return &swcache.Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Body:       body.Bytes(),
		URL:        resp.Request.URL.String(),
	}, nil
}

// statusText strips the code from resp.Status ("200 OK" -> "OK").
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
