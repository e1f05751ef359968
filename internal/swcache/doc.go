// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package swcache is the offline cache manager. A Manager pre-caches the core
// assets of a site on install, sweeps stale cache versions on activate and
// intercepts GET requests, network-first for navigations and cache-first for
// everything else.
//
// The Manager owns no global state. Storage and network access are injected
// through the Storage, Cache and Fetcher interfaces, and lifecycle events are
// delivered through Dispatch, whose Completion the host must await before
// moving to the next lifecycle stage.
package swcache
