// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package disk stores caches as directories of files. Each entry is a YAML
// record named by the MD5 of its key plus the body file the record names.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/staranto/swcache/internal/store"
	"github.com/staranto/swcache/internal/swcache"
)

// Dir resolves the base cache directory.
// Precedence:
//  1. SWCACHE_CACHE_DIR, if set and non-empty
//  2. os.UserCacheDir()/swcache
//
// Returns ("", false) if a base cannot be resolved.
func Dir() (string, bool) {
	if c, ok := os.LookupEnv("SWCACHE_CACHE_DIR"); ok && c != "" {
		return c, true
	}
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "swcache"), true
	}
	return "", false
}

// Storage is a directory of caches.
type Storage struct {
	base string
}

// New creates base if needed. An empty base means Dir().
func New(base string) (*Storage, error) {
	if base == "" {
		var ok bool
		if base, ok = Dir(); !ok {
			return nil, errors.New("failed to resolve cache base directory")
		}
	}
	if err := os.MkdirAll(base, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("failed to create cache base directory: %w", err)
	}
	return &Storage{base: base}, nil
}

// Base returns the directory the storage lives in.
func (s *Storage) Base() string {
	return s.base
}

// Open implements swcache.Storage.
func (s *Storage) Open(_ context.Context, name string) (swcache.Cache, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	marker := filepath.Join(dir, store.Marker)
	if _, err := os.Stat(marker); errors.Is(err, fs.ErrNotExist) {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := os.WriteFile(marker, stamp, 0o600); err != nil { //nolint:mnd
			return nil, fmt.Errorf("failed to write cache marker: %w", err)
		}
	}
	return &Cache{dir: dir}, nil
}

// Has implements swcache.Storage.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(s.base, name, store.Marker))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Keys implements swcache.Storage. Caches are ordered by when their marker
// was written.
func (s *Storage) Keys(_ context.Context) ([]string, error) {
	dirents, err := os.ReadDir(s.base)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache base directory: %w", err)
	}

	type named struct {
		name    string
		created time.Time
	}
	var found []named
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		stamp, err := os.ReadFile(filepath.Join(s.base, d.Name(), store.Marker))
		if err != nil {
			log.Debugf("skipping %s: no cache marker", d.Name())
			continue
		}
		created, _ := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(stamp)))
		found = append(found, named{d.Name(), created})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].created.Equal(found[j].created) {
			return found[i].name < found[j].name
		}
		return found[i].created.Before(found[j].created)
	})

	names := make([]string, 0, len(found))
	for _, f := range found {
		names = append(names, f.name)
	}
	return names, nil
}

// Delete implements swcache.Storage.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := os.RemoveAll(filepath.Join(s.base, name)); err != nil {
		return false, fmt.Errorf("failed to remove cache %s: %w", name, err)
	}
	return true, nil
}

// Cache is one cache directory.
type Cache struct {
	dir string
}

// record reads the record at meta. A missing record is (zero, false, nil).
func (c *Cache) record(meta string) (store.Record, bool, error) {
	raw, err := os.ReadFile(meta)
	if errors.Is(err, fs.ErrNotExist) {
		return store.Record{}, false, nil
	} else if err != nil {
		return store.Record{}, false, fmt.Errorf("failed to read cache record: %w", err)
	}
	rec, err := store.UnmarshalRecord(raw)
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// Put implements swcache.Cache. The body goes to a fresh file and the record
// is renamed over the old one last, so concurrent writers to one key never
// mix one write's record with another's body. The replaced body is removed
// once the new record is in place.
func (c *Cache) Put(_ context.Context, req *swcache.Request, resp *swcache.Response) error {
	if req.Method != http.MethodGet {
		return swcache.ErrNotCacheable
	}

	encoded := store.EncodeKey(req.Key())
	meta := filepath.Join(c.dir, encoded+store.MetaSuffix)
	prev, hadPrev, err := c.record(meta)
	if err != nil {
		log.WithError(err).Debugf("replacing unreadable record %s", meta)
		hadPrev = false
	}

	rec := store.NewRecord(req, resp)
	rec.Body = store.NewBodyName(encoded)
	raw, err := rec.Marshal()
	if err != nil {
		return err
	}

	body := filepath.Join(c.dir, rec.Body)
	if err := writeAtomic(body, resp.Body); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := writeAtomic(meta, raw); err != nil {
		os.Remove(body)
		return fmt.Errorf("failed to write to cache: %w", err)
	}

	if hadPrev {
		old := filepath.Join(c.dir, prev.BodyName(encoded))
		if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warnf("failed to remove replaced body %s", old)
		}
	}
	return nil
}

// Match implements swcache.Cache. A body that vanishes between reading the
// record and reading the body was replaced by a concurrent Put, so the record
// is read again.
func (c *Cache) Match(_ context.Context, req *swcache.Request) (*swcache.Response, bool, error) {
	if req.Method != http.MethodGet {
		return nil, false, nil
	}

	encoded := store.EncodeKey(req.Key())
	meta := filepath.Join(c.dir, encoded+store.MetaSuffix)
	for range store.MatchAttempts {
		rec, ok, err := c.record(meta)
		if err != nil || !ok {
			return nil, false, err
		}
		data, err := os.ReadFile(filepath.Join(c.dir, rec.BodyName(encoded)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, false, fmt.Errorf("failed to read cache body: %w", err)
		}
		return rec.Response(data), true, nil
	}
	return nil, false, nil
}

// Keys implements swcache.Cache.
func (c *Cache) Keys(_ context.Context) ([]swcache.Entry, error) {
	metas, err := filepath.Glob(filepath.Join(c.dir, "*"+store.MetaSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	entries := make([]swcache.Entry, 0, len(metas))
	for _, m := range metas {
		raw, err := os.ReadFile(m)
		if err != nil {
			log.WithError(err).Warnf("failed to read cache record %s", m)
			continue
		}
		rec, err := store.UnmarshalRecord(raw)
		if err != nil {
			log.WithError(err).Warnf("failed to parse cache record %s", m)
			continue
		}
		entries = append(entries, rec.Entry())
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StoredAt.Before(entries[j].StoredAt)
	})
	return entries, nil
}

// Delete implements swcache.Cache.
func (c *Cache) Delete(_ context.Context, req *swcache.Request) (bool, error) {
	encoded := store.EncodeKey(req.Key())
	meta := filepath.Join(c.dir, encoded+store.MetaSuffix)
	rec, ok, err := c.record(meta)
	if err != nil {
		rec = store.Record{}
	} else if !ok {
		return false, nil
	}

	if err := os.Remove(meta); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to remove cache record: %w", err)
	}
	body := filepath.Join(c.dir, rec.BodyName(encoded))
	if err := os.Remove(body); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, fmt.Errorf("failed to remove cache body: %w", err)
	}
	return true, nil
}

// writeAtomic writes data beside path and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
