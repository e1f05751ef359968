// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/swcache"
)

func TestRecord(t *testing.T) {
	req, err := swcache.NewRequest("GET", "http://localhost:8080/site.webmanifest", swcache.ModeNoCORS)
	require.NoError(t, err)
	resp := &swcache.Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{"application/manifest+json"}, "Etag": []string{`"abc"`}},
		Body:       []byte(`{"name":"site"}`),
		URL:        "http://localhost:8080/site.webmanifest",
	}

	rec := NewRecord(req, resp)
	raw, err := rec.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "url: http://localhost:8080/site.webmanifest")

	back, err := UnmarshalRecord(raw)
	require.NoError(t, err)

	got := back.Response(resp.Body)
	assert.Equal(t, resp.Status, got.Status)
	assert.Equal(t, resp.StatusText, got.StatusText)
	assert.Equal(t, `"abc"`, got.Header.Get("ETag"))
	assert.Equal(t, resp.URL, got.URL)

	e := back.Entry()
	assert.Equal(t, req.Key(), e.Key)
	assert.Equal(t, "application/manifest+json", e.ContentType)
	assert.Equal(t, int64(15), e.Size)
	assert.WithinDuration(t, time.Now(), e.StoredAt, time.Minute)
}

func TestUnmarshalRecord_Invalid(t *testing.T) {
	_, err := UnmarshalRecord([]byte("status: [not an int"))
	assert.Error(t, err)
}

func TestEncodeKey(t *testing.T) {
	a := EncodeKey("GET http://localhost:8080/")
	assert.Len(t, a, 32)
	assert.Equal(t, a, EncodeKey("GET http://localhost:8080/"))
	assert.NotEqual(t, a, EncodeKey("GET http://localhost:8080/index.html"))
}

func TestBodyName(t *testing.T) {
	encoded := EncodeKey("GET http://localhost:8080/")

	a, b := NewBodyName(encoded), NewBodyName(encoded)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, encoded+"."))
	assert.True(t, strings.HasSuffix(a, BodySuffix))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"named", a, a},
		{"legacy", "", encoded + BodySuffix},
		{"stays in the cache", "../../etc/" + a, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Record{Body: tt.body}.BodyName(encoded))
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: "gpt-cache-v1"},
		{name: "v2.1"},
		{name: "", wantErr: true},
		{name: ".", wantErr: true},
		{name: "..", wantErr: true},
		{name: "a/b", wantErr: true},
		{name: `a\b`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
