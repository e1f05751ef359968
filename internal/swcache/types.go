// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package swcache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mode mirrors the request mode a browser attaches to a fetch.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Request is an inbound fetch as seen by the manager.
type Request struct {
	Method string
	URL    *url.URL
	Mode   Mode
	Header http.Header
}

// NewRequest parses rawURL, which must be absolute, into a Request. An empty
// method means GET.
func NewRequest(method string, rawURL string, mode Mode) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Mode:   mode,
		Header: http.Header{},
	}, nil
}

// IsNavigation reports whether the request is a top-level document load.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// Key is the request identity used by every Cache: method plus the absolute
// URL without its fragment.
func (r *Request) Key() string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return r.Method + " " + u.String()
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	u := *r.URL
	return &Request{
		Method: r.Method,
		URL:    &u,
		Mode:   r.Mode,
		Header: r.Header.Clone(),
	}
}

// Response is a stored or live response.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	// URL is the final URL the response was served from, after redirects.
	URL string
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Clone returns a deep copy of the response. The body is copied so the clone
// can be stored while the original is handed back to the caller.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
		Body:       body,
		URL:        r.URL,
	}
}

// OfflineResponse is the synthetic response returned for a static asset that
// is neither cached nor reachable.
func OfflineResponse() *Response {
	return &Response{
		Status:     http.StatusGatewayTimeout,
		StatusText: "Offline",
		Header:     http.Header{},
		Body:       []byte{},
	}
}

// Entry describes a stored request/response pair without its body.
type Entry struct {
	Key         string    `json:"key"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

// Storage is the set of named caches available to the manager.
type Storage interface {
	// Open returns the named cache, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)
	// Has reports whether the named cache exists.
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists cache names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named cache. It reports false, and no error, when
	// the cache did not exist.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache is a single named key-value store of responses keyed by request.
type Cache interface {
	// Put stores resp under req, replacing any existing entry.
	Put(ctx context.Context, req *Request, resp *Response) error
	// Match returns the stored response for req. The second value is false
	// on a miss.
	Match(ctx context.Context, req *Request) (*Response, bool, error)
	// Keys lists the stored entries.
	Keys(ctx context.Context) ([]Entry, error)
	// Delete removes the entry for req.
	Delete(ctx context.Context, req *Request) (bool, error)
}

// Fetcher performs a network fetch. Any HTTP status is a successful fetch; an
// error means the network could not produce a response at all.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
