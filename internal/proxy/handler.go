// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package proxy puts a worker host in front of an origin site. Requests the
// host intercepts are answered from the cache manager; everything else is
// reverse proxied untouched.
package proxy

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/apex/log"

	"github.com/staranto/swcache/internal/swcache"
	"github.com/staranto/swcache/internal/worker"
)

// SourceHeader reports where a handled response came from.
const SourceHeader = "X-Swcache"

// StatusPath serves the host status as JSON.
const StatusPath = "/sw-status"

// Handler is the http.Handler for the proxy.
type Handler struct {
	host    *worker.Host
	origin  *url.URL
	storage swcache.Storage
	proxy   *httputil.ReverseProxy
}

// New returns a Handler forwarding to origin.
func New(host *worker.Host, origin *url.URL, storage swcache.Storage) *Handler {
	return &Handler{
		host:    host,
		origin:  origin,
		storage: storage,
		proxy: &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(origin)
				pr.SetXForwarded()
			},
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == StatusPath {
		h.serveStatus(w, r)
		return
	}

	req := h.toRequest(r)
	res, err := h.host.Fetch(r.Context(), req)
	if err != nil {
		if errors.Is(err, swcache.ErrNoFallback) {
			log.WithError(err).Debugf("offline navigation to %s", req.URL)
		} else {
			log.WithError(err).Warnf("fetch %s", req.URL)
		}
		http.Error(w, "offline and not cached", http.StatusBadGateway)
		return
	}

	if !res.Handled {
		h.proxy.ServeHTTP(w, r)
		return
	}

	resp := res.Response
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Del("Content-Length")
	w.Header().Set(SourceHeader, string(res.Source))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

// toRequest maps an inbound request onto the origin.
func (h *Handler) toRequest(r *http.Request) *swcache.Request {
	u := h.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	return &swcache.Request{
		Method: r.Method,
		URL:    u,
		Mode:   RequestMode(r),
		Header: r.Header.Clone(),
	}
}

// RequestMode infers the fetch mode of an inbound request. Browsers send
// Sec-Fetch-Mode; without it, a GET that prefers HTML is taken to be a
// navigation.
func RequestMode(r *http.Request) swcache.Mode {
	if m := r.Header.Get("Sec-Fetch-Mode"); m != "" {
		return swcache.Mode(strings.ToLower(m))
	}
	if r.Method == http.MethodGet && prefersHTML(r.Header.Get("Accept")) {
		return swcache.ModeNavigate
	}
	return swcache.ModeNoCORS
}

// prefersHTML reports whether text/html is the first media type in accept.
func prefersHTML(accept string) bool {
	first, _, _ := strings.Cut(accept, ",")
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(first))
	return err == nil && mt == "text/html"
}

type statusDoc struct {
	worker.Status
	Caches []string `json:"caches"`
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	doc := statusDoc{Status: h.host.Status()}
	names, err := h.storage.Keys(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	doc.Caches = names
	if doc.Caches == nil {
		doc.Caches = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	_ = json.NewEncoder(w).Encode(doc)
}
