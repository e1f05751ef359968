// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package memory is an in-process cache store. Nothing survives a restart.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/staranto/swcache/internal/swcache"
)

// Storage holds named caches in memory. It is safe for concurrent use.
type Storage struct {
	mu     sync.RWMutex
	caches map[string]*Cache
	names  []string
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{caches: map[string]*Cache{}}
}

// Open implements swcache.Storage.
func (s *Storage) Open(_ context.Context, name string) (swcache.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &Cache{entries: map[string]*record{}}
	s.caches[name] = c
	s.names = append(s.names, name)
	return c, nil
}

// Has implements swcache.Storage.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Keys implements swcache.Storage.
func (s *Storage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...), nil
}

// Delete implements swcache.Storage.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
	return true, nil
}

type record struct {
	req      *swcache.Request
	resp     *swcache.Response
	storedAt time.Time
	seq      uint64
}

// Cache is one named cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*record
	seq     uint64
}

// Put implements swcache.Cache. Last write wins.
func (c *Cache) Put(_ context.Context, req *swcache.Request, resp *swcache.Response) error {
	if req.Method != http.MethodGet {
		return swcache.ErrNotCacheable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[req.Key()] = &record{
		req:      req.Clone(),
		resp:     resp.Clone(),
		storedAt: time.Now().UTC(),
		seq:      c.seq,
	}
	return nil
}

// Match implements swcache.Cache.
func (c *Cache) Match(_ context.Context, req *swcache.Request) (*swcache.Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if req.Method != http.MethodGet {
		return nil, false, nil
	}
	r, ok := c.entries[req.Key()]
	if !ok {
		return nil, false, nil
	}
	return r.resp.Clone(), true, nil
}

// Keys implements swcache.Cache. Entries come back in insertion order.
func (c *Cache) Keys(_ context.Context) ([]swcache.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := make([]*record, 0, len(c.entries))
	for _, r := range c.entries {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	entries := make([]swcache.Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, swcache.Entry{
			Key:         r.req.Key(),
			Method:      r.req.Method,
			URL:         r.req.URL.String(),
			Status:      r.resp.Status,
			ContentType: r.resp.Header.Get("Content-Type"),
			Size:        int64(len(r.resp.Body)),
			StoredAt:    r.storedAt,
		})
	}
	return entries, nil
}

// Delete implements swcache.Cache.
func (c *Cache) Delete(_ context.Context, req *swcache.Request) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := req.Key()
	if _, ok := c.entries[key]; !ok {
		return false, nil
	}
	delete(c.entries, key)
	return true, nil
}
