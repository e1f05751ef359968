// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package swcache

import (
	"fmt"

	perrors "github.com/jmgilman/go/errors"
)

var (
	// ErrNotCacheable is returned by Cache.Put for anything other than GET.
	ErrNotCacheable = perrors.New(perrors.CodeInvalidInput, "only GET requests can be cached")

	// ErrNoFallback is returned when a navigation fails on the network and
	// neither the request nor the offline fallback is cached.
	ErrNoFallback = perrors.New(perrors.CodeNotFound, "no cached response or fallback for navigation")
)

// InstallError reports the core asset that prevented an install.
type InstallError struct {
	Asset  string
	Status int
	Err    error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch core asset %s: %v", e.Asset, e.Err)
	}
	return fmt.Sprintf("failed to fetch core asset %s: status %d", e.Asset, e.Status)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
