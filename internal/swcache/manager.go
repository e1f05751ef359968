// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/apex/log"
	perrors "github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultVersion is the cache name used when none is configured.
const DefaultVersion = "gpt-cache-v1"

// DefaultFallback is served for a navigation that fails offline and has no
// cached entry of its own.
const DefaultFallback = "/index.html"

// DefaultCoreAssets is the app shell cached on install.
var DefaultCoreAssets = []string{
	"/",
	"/index.html",
	"/style.css",
	"/search.js",
	"/site.webmanifest",
	"/web-app-manifest-192x192.png",
	"/web-app-manifest-512x512.png",
	"/favicon.ico",
}

// Config holds the only knobs the manager has. Bumping Version is how a
// redeploy invalidates everything cached by the previous one.
type Config struct {
	Version    string
	CoreAssets []string
	Fallback   string
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.CoreAssets == nil {
		c.CoreAssets = append([]string(nil), DefaultCoreAssets...)
	}
	if c.Fallback == "" {
		c.Fallback = DefaultFallback
	}
}

// Source tells where a handled fetch got its response from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceFallback    Source = "fallback"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// FetchResult is the outcome of a fetch interception. When Handled is false
// the request was not intercepted and the host must apply its default network
// handling.
type FetchResult struct {
	Response *Response
	Source   Source
	Handled  bool
}

// Manager is the offline cache manager for one cache version.
type Manager struct {
	cfg      Config
	origin   *url.URL
	storage  Storage
	fetcher  Fetcher
	logger   log.Interface
	handlers map[EventKind]handlerFunc
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger replaces the default apex logger.
func WithLogger(l log.Interface) Option {
	return func(m *Manager) { m.logger = l }
}

// New builds a Manager. origin is the site the core asset paths are resolved
// against.
func New(cfg Config, origin *url.URL, storage Storage, fetcher Fetcher, opts ...Option) (*Manager, error) {
	if origin == nil || !origin.IsAbs() {
		return nil, perrors.New(perrors.CodeInvalidConfig, "origin must be an absolute url")
	}
	if storage == nil || fetcher == nil {
		return nil, perrors.New(perrors.CodeInvalidConfig, "storage and fetcher are required")
	}
	cfg.SetDefaults()

	m := &Manager{
		cfg:     cfg,
		origin:  origin,
		storage: storage,
		fetcher: fetcher,
		logger:  log.Log,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithField("version", cfg.Version)
	m.handlers = m.dispatchTable()

	return m, nil
}

// Config returns the manager's effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Version is the name of the cache this manager owns.
func (m *Manager) Version() string {
	return m.cfg.Version
}

// Resolve turns a site path into a GET request against the origin.
func (m *Manager) Resolve(path string, mode Mode) (*Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path %q: %w", path, err)
	}
	return &Request{
		Method: http.MethodGet,
		URL:    m.origin.ResolveReference(ref),
		Mode:   mode,
		Header: http.Header{},
	}, nil
}

// Install populates the current cache with every core asset. All assets are
// fetched before anything is stored, so a failed install leaves no partial
// population behind. There is no retry; the host installs again on its next
// attempt.
func (m *Manager) Install(ctx context.Context) error {
	m.logger.Debugf("installing %d core assets", len(m.cfg.CoreAssets))

	cache, err := m.storage.Open(ctx, m.cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to open cache %s: %w", m.cfg.Version, err)
	}

	reqs := make([]*Request, len(m.cfg.CoreAssets))
	for i, asset := range m.cfg.CoreAssets {
		req, err := m.Resolve(asset, ModeNoCORS)
		if err != nil {
			return perrors.Wrap(err, perrors.CodeInvalidConfig, "invalid core asset")
		}
		reqs[i] = req
	}

	resps := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return &InstallError{Asset: m.cfg.CoreAssets[i], Err: err}
			}
			if !resp.OK() {
				return &InstallError{Asset: m.cfg.CoreAssets[i], Status: resp.Status}
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.WithError(err).Warn("install failed")
		return perrors.Wrap(err, perrors.CodeNetwork, "install "+m.cfg.Version)
	}

	for i, req := range reqs {
		if err := cache.Put(ctx, req, resps[i]); err != nil {
			return fmt.Errorf("failed to store core asset %s: %w", m.cfg.CoreAssets[i], err)
		}
	}

	m.logger.Infof("installed %d core assets", len(reqs))
	return nil
}

// Activate deletes every cache whose name is not the current version and
// returns the names it removed.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if name == m.cfg.Version {
			continue
		}
		ok, err := m.storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
		if ok {
			m.logger.Debugf("deleted stale cache %s", name)
			deleted = append(deleted, name)
		}
	}

	return deleted, nil
}

// HandleFetch intercepts a single request.
func (m *Manager) HandleFetch(ctx context.Context, req *Request) (FetchResult, error) {
	if req.Method != http.MethodGet {
		return FetchResult{Source: SourcePassthrough}, nil
	}
	if req.IsNavigation() {
		return m.networkFirst(ctx, req)
	}
	return m.cacheFirst(ctx, req), nil
}

func (m *Manager) networkFirst(ctx context.Context, req *Request) (FetchResult, error) {
	resp, netErr := m.fetcher.Fetch(ctx, req)
	if netErr == nil {
		m.writeBack(ctx, req, resp)
		return FetchResult{Response: resp, Source: SourceNetwork, Handled: true}, nil
	}
	m.logger.WithError(netErr).Debugf("navigation offline: %s", req.URL)

	cache, err := m.storage.Open(ctx, m.cfg.Version)
	if err != nil {
		return FetchResult{Handled: true}, fmt.Errorf("failed to open cache %s: %w", m.cfg.Version, err)
	}

	if cached, ok, err := cache.Match(ctx, req); err != nil {
		m.logger.WithError(err).Warnf("cache match failed: %s", req.URL)
	} else if ok {
		return FetchResult{Response: cached, Source: SourceCache, Handled: true}, nil
	}

	fallback, err := m.Resolve(m.cfg.Fallback, ModeNavigate)
	if err != nil {
		return FetchResult{Handled: true}, err
	}
	if cached, ok, err := cache.Match(ctx, fallback); err != nil {
		m.logger.WithError(err).Warnf("cache match failed: %s", fallback.URL)
	} else if ok {
		return FetchResult{Response: cached, Source: SourceFallback, Handled: true}, nil
	}

	return FetchResult{Handled: true}, fmt.Errorf("%w: %w", ErrNoFallback, netErr)
}

func (m *Manager) cacheFirst(ctx context.Context, req *Request) FetchResult {
	if cache, err := m.storage.Open(ctx, m.cfg.Version); err != nil {
		m.logger.WithError(err).Warnf("failed to open cache %s", m.cfg.Version)
	} else if cached, ok, err := cache.Match(ctx, req); err != nil {
		m.logger.WithError(err).Warnf("cache match failed: %s", req.URL)
	} else if ok {
		return FetchResult{Response: cached, Source: SourceCache, Handled: true}
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		m.logger.WithError(err).Debugf("asset offline: %s", req.URL)
		return FetchResult{Response: OfflineResponse(), Source: SourceOffline, Handled: true}
	}
	m.writeBack(ctx, req, resp)
	return FetchResult{Response: resp, Source: SourceNetwork, Handled: true}
}

// writeBack stores a copy of resp. Failures are logged and otherwise ignored;
// the live response is returned regardless.
func (m *Manager) writeBack(ctx context.Context, req *Request, resp *Response) {
	cache, err := m.storage.Open(ctx, m.cfg.Version)
	if err == nil {
		err = cache.Put(ctx, req, resp.Clone())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.WithError(err).Warnf("failed to cache %s", req.URL)
	}
}
