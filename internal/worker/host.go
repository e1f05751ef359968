// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package worker hosts a cache manager the way a browser hosts a service
// worker. It dispatches install, activate and fetch events and enforces their
// ordering: activate only after install has completed, and fetch interception
// only once a version is activated.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/apex/log"

	"github.com/staranto/swcache/internal/swcache"
)

// State is the lifecycle state of the host.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of the host.
type Status struct {
	State   string `json:"state"`
	Version string `json:"version,omitempty"`
	Waiting string `json:"waiting,omitempty"`
}

// generation is one installed version and the fetches still running on it.
type generation struct {
	*swcache.Manager
	inflight sync.WaitGroup
}

// release marks a fetch finished once its handler has returned, which may be
// after the caller stopped waiting.
func (g *generation) release(c *swcache.Completion) {
	select {
	case <-c.Done():
		g.inflight.Done()
	default:
		go func() {
			<-c.Done()
			g.inflight.Done()
		}()
	}
}

// Host owns the active manager and moves new versions through the lifecycle.
type Host struct {
	origin  *url.URL
	storage swcache.Storage
	fetcher swcache.Fetcher

	// lifecycle serializes Register/Update so installs never overlap.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	state   State
	active  *generation
	waiting string
	ready   chan struct{}
}

// New returns a host in the parsed state.
func New(origin *url.URL, storage swcache.Storage, fetcher swcache.Fetcher) *Host {
	return &Host{
		origin:  origin,
		storage: storage,
		fetcher: fetcher,
		state:   StateParsed,
	}
}

// Register installs and activates the first version.
func (h *Host) Register(ctx context.Context, cfg swcache.Config) error {
	return h.Update(ctx, cfg)
}

// Update installs cfg's version and, once that completes, activates it. The
// previously active version keeps serving until then, and keeps serving if
// the new install fails.
func (h *Host) Update(ctx context.Context, cfg swcache.Config) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	m, err := swcache.New(cfg, h.origin, h.storage, h.fetcher)
	if err != nil {
		return err
	}
	logger := log.WithField("version", m.Version())

	h.transition(StateInstalling, m.Version())
	if _, err := m.Dispatch(ctx, swcache.Event{Kind: swcache.EventInstall}).Wait(ctx); err != nil {
		h.installFailed()
		return fmt.Errorf("install failed: %w", err)
	}
	h.transition(StateInstalled, m.Version())
	logger.Debug("installed")

	// From here on the new version is in control. New fetches wait for the
	// sweep, and fetches still running on the old version finish first, so
	// nothing writes into a cache being deleted.
	ready := make(chan struct{})
	h.mu.Lock()
	prev := h.active
	h.active = &generation{Manager: m}
	h.waiting = ""
	h.state = StateActivating
	h.ready = ready
	h.mu.Unlock()

	if prev != nil {
		drained := make(chan struct{})
		go func() {
			prev.inflight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
		}
	}

	res, err := m.Dispatch(ctx, swcache.Event{Kind: swcache.EventActivate}).Wait(ctx)

	h.mu.Lock()
	h.state = StateActivated
	close(ready)
	h.mu.Unlock()

	if err != nil {
		logger.WithError(err).Warn("activated, but failed to sweep stale caches")
		return nil
	}
	logger.Infof("activated, swept %d stale caches", len(res.Deleted))
	return nil
}

// transition records the state of the version being brought up. While an
// older version is active the host keeps reporting it as activated.
func (h *Host) transition(s State, version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waiting = version
	if h.active == nil {
		h.state = s
	}
}

func (h *Host) installFailed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waiting = ""
	if h.active == nil {
		h.state = StateRedundant
	}
}

// Fetch dispatches a fetch event to the active manager. Nothing is
// intercepted before the first install completes, and fetches arriving while
// a version activates wait for it.
func (h *Host) Fetch(ctx context.Context, req *swcache.Request) (swcache.FetchResult, error) {
	h.mu.RLock()
	g, state, ready := h.active, h.state, h.ready
	if g != nil {
		g.inflight.Add(1)
	}
	h.mu.RUnlock()

	if g == nil {
		return swcache.FetchResult{Source: swcache.SourcePassthrough}, nil
	}
	if state == StateActivating {
		select {
		case <-ready:
		case <-ctx.Done():
			g.inflight.Done()
			return swcache.FetchResult{}, ctx.Err()
		}
	}

	c := g.Dispatch(ctx, swcache.Event{Kind: swcache.EventFetch, Request: req})
	res, err := c.Wait(ctx)
	g.release(c)
	return res.Fetch, err
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Status returns a snapshot of the host.
func (h *Host) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Status{State: h.state.String(), Waiting: h.waiting}
	if h.active != nil {
		st.Version = h.active.Version()
	}
	return st
}
