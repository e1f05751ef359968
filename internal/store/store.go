// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package store holds what the persistent cache backends share: the on-disk
// record format and key encoding.
//
// An entry is a record named <md5>.yaml and a body named <md5>.<nonce>.body.
// Every write gets a fresh body name and the record is written last, so
// replacing the record commits the whole entry at once.
package store

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	perrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/staranto/swcache/internal/swcache"
)

const (
	// MetaSuffix names the YAML metadata object of an entry.
	MetaSuffix = ".yaml"
	// BodySuffix names the body object of an entry.
	BodySuffix = ".body"
	// Marker is written into every cache so empty caches still exist.
	Marker = ".swcache"
	// MatchAttempts bounds how often Match re-reads a record whose body was
	// replaced underneath it.
	MatchAttempts = 3
)

// Record is the metadata persisted beside each body.
type Record struct {
	Key         string              `yaml:"key"`
	Method      string              `yaml:"method"`
	URL         string              `yaml:"url"`
	Status      int                 `yaml:"status"`
	StatusText  string              `yaml:"status_text,omitempty"`
	Header      map[string][]string `yaml:"header,omitempty"`
	ResponseURL string              `yaml:"response_url,omitempty"`
	Size        int64               `yaml:"size"`
	StoredAt    string              `yaml:"stored_at"`
	// Body names the body object holding this record's bytes.
	Body string `yaml:"body,omitempty"`
}

// NewRecord builds the record for a request/response pair.
func NewRecord(req *swcache.Request, resp *swcache.Response) Record {
	return Record{
		Key:         req.Key(),
		Method:      req.Method,
		URL:         req.URL.String(),
		Status:      resp.Status,
		StatusText:  resp.StatusText,
		Header:      resp.Header.Clone(),
		ResponseURL: resp.URL,
		Size:        int64(len(resp.Body)),
		StoredAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Marshal encodes the record as YAML.
func (r Record) Marshal() ([]byte, error) {
	b, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return b, nil
}

// UnmarshalRecord decodes a YAML record.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return r, nil
}

// Response rebuilds the stored response around body.
func (r Record) Response(body []byte) *swcache.Response {
	return &swcache.Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     http.Header(r.Header).Clone(),
		Body:       body,
		URL:        r.ResponseURL,
	}
}

// Entry converts the record to a listing entry.
func (r Record) Entry() swcache.Entry {
	storedAt, _ := time.Parse(time.RFC3339Nano, r.StoredAt)
	return swcache.Entry{
		Key:         r.Key,
		Method:      r.Method,
		URL:         r.URL,
		Status:      r.Status,
		ContentType: http.Header(r.Header).Get("Content-Type"),
		Size:        r.Size,
		StoredAt:    storedAt,
	}
}

// EncodeKey hashes a request key with MD5 and returns the hex string used as
// the entry's base name.
func EncodeKey(key string) string {
	h := md5.New()
	_, _ = h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// NewBodyName returns a body name for encoded that no other write uses.
func NewBodyName(encoded string) string {
	return encoded + "." + uuid.NewString() + BodySuffix
}

// BodyName returns the body object for the record. Records written without
// a body name point at <encoded>.body.
func (r Record) BodyName(encoded string) string {
	if r.Body == "" {
		return encoded + BodySuffix
	}
	return path.Base(r.Body)
}

// ValidateName rejects cache names that cannot be used as a single path
// segment.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return perrors.Newf(perrors.CodeInvalidInput, "invalid cache name %q", name)
	}
	return nil
}
