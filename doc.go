// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// swcache is the entry point for the swcache command line tool, an offline
// cache manager that precaches a site's core assets, prunes stale cache
// versions and serves requests network-first or cache-first from a local
// proxy.
package main
