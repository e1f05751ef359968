// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package swcache

import (
	"context"
	"fmt"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventInstall EventKind = iota
	EventActivate
	EventFetch
)

func (k EventKind) String() string {
	switch k {
	case EventInstall:
		return "install"
	case EventActivate:
		return "activate"
	case EventFetch:
		return "fetch"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is what the host dispatches. Request is only used by EventFetch.
type Event struct {
	Kind    EventKind
	Request *Request
}

// Result carries whatever the handler produced.
type Result struct {
	Fetch   FetchResult
	Deleted []string
}

// Completion resolves once the dispatched handler has finished all of its
// work. Hosts must await it before moving to the next lifecycle stage.
type Completion struct {
	done   chan struct{}
	result Result
	err    error
}

// Done is closed when the handler returns.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the handler returns or ctx ends.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type handlerFunc func(context.Context, Event) (Result, error)

func (m *Manager) dispatchTable() map[EventKind]handlerFunc {
	return map[EventKind]handlerFunc{
		EventInstall: func(ctx context.Context, _ Event) (Result, error) {
			return Result{}, m.Install(ctx)
		},
		EventActivate: func(ctx context.Context, _ Event) (Result, error) {
			deleted, err := m.Activate(ctx)
			return Result{Deleted: deleted}, err
		},
		EventFetch: func(ctx context.Context, ev Event) (Result, error) {
			if ev.Request == nil {
				return Result{}, fmt.Errorf("fetch event without a request")
			}
			fr, err := m.HandleFetch(ctx, ev.Request)
			return Result{Fetch: fr}, err
		},
	}
}

// Dispatch runs the handler for ev asynchronously and returns its
// Completion.
func (m *Manager) Dispatch(ctx context.Context, ev Event) *Completion {
	c := &Completion{done: make(chan struct{})}

	h, ok := m.handlers[ev.Kind]
	if !ok {
		c.err = fmt.Errorf("no handler for %s", ev.Kind)
		close(c.done)
		return c
	}

	go func() {
		defer close(c.done)
		c.result, c.err = h(ctx, ev)
	}()

	return c
}
