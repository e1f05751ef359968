// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/swcache/internal/store"
	"github.com/staranto/swcache/internal/store/storetest"
	"github.com/staranto/swcache/internal/swcache"
)

type object struct {
	data     []byte
	modified time.Time
}

// fakeS3 is an in-memory bucket. Listings are paged pageSize keys at a time.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]object
	clock    time.Time
	pageSize int
	calls    map[string]int
	// denied keys fail inside a DeleteObjects batch.
	denied map[string]bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  map[string]object{},
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		pageSize: 2,
		calls:    map[string]int{},
		denied:   map[string]bool{},
	}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetObject"]++
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutObject"]++
	f.clock = f.clock.Add(time.Second)
	f.objects[aws.ToString(in.Key)] = object{data: data, modified: f.clock}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["HeadObject"]++
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{LastModified: aws.Time(o.modified), ContentLength: aws.Int64(int64(len(o.data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteObject"]++
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteObjects"]++
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		k := aws.ToString(id.Key)
		if f.denied[k] {
			out.Errors = append(out.Errors, types.Error{
				Key:     aws.String(k),
				Code:    aws.String("AccessDenied"),
				Message: aws.String("Access Denied"),
			})
			continue
		}
		delete(f.objects, k)
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListObjectsV2"]++

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	// Collapse keys to common prefixes when a delimiter is given, then page
	// over the combined, sorted listing.
	seen := map[string]bool{}
	var items []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		item := k
		if delim != "" {
			if i := strings.Index(k[len(prefix):], delim); i >= 0 {
				item = k[:len(prefix)+i+len(delim)]
			}
		}
		if !seen[item] {
			seen[item] = true
			items = append(items, item)
		}
	}
	sort.Strings(items)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+f.pageSize, len(items))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	if end < len(items) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, item := range items[start:end] {
		if delim != "" && strings.HasSuffix(item, delim) {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(item)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(item)})
	}
	return out, nil
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestStorage(t *testing.T) {
	for _, prefix := range []string{"", "sites/demo"} {
		t.Run("prefix="+prefix, func(t *testing.T) {
			storetest.Run(t, func(t *testing.T) swcache.Storage {
				s, err := New(newFakeS3(), "caches", prefix)
				require.NoError(t, err)
				return s
			})
		})
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(newFakeS3(), "", "")
	assert.Error(t, err)
}

func TestStorage_Layout(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s, err := New(fake, "caches", "/sites/demo/")
	require.NoError(t, err)

	cache, err := s.Open(ctx, "gpt-cache-v1")
	require.NoError(t, err)
	req := storetest.Request(t, "GET", "http://localhost:8080/")
	require.NoError(t, cache.Put(ctx, req, storetest.Response("text/html", "shell")))

	encoded := "sites/demo/gpt-cache-v1/" + store.EncodeKey(req.Key())
	assert.True(t, fake.has("sites/demo/gpt-cache-v1/"+store.Marker))
	assert.True(t, fake.has(encoded+store.MetaSuffix))

	fake.mu.Lock()
	rec, err := store.UnmarshalRecord(fake.objects[encoded+store.MetaSuffix].data)
	fake.mu.Unlock()
	require.NoError(t, err)
	assert.True(t, fake.has("sites/demo/gpt-cache-v1/"+rec.Body), rec.Body)

	// Overwriting removes the replaced body.
	require.NoError(t, cache.Put(ctx, req, storetest.Response("text/html", "shell v2")))
	assert.False(t, fake.has("sites/demo/gpt-cache-v1/"+rec.Body))
}

func TestStorage_DeleteReportsFailedKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s, err := New(fake, "caches", "")
	require.NoError(t, err)

	_, err = s.Open(ctx, "old")
	require.NoError(t, err)
	fake.denied["old/"+store.Marker] = true

	deleted, err := s.Delete(ctx, "old")
	require.Error(t, err)
	assert.False(t, deleted)
	assert.Contains(t, err.Error(), "old/"+store.Marker)

	ok, err := s.Has(ctx, "old")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_KeysAcrossPages(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s, err := New(fake, "caches", "")
	require.NoError(t, err)

	names := []string{"v5", "v3", "v1", "v4", "v2"}
	for _, n := range names {
		_, err := s.Open(ctx, n)
		require.NoError(t, err)
	}

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, names, keys)
	assert.GreaterOrEqual(t, fake.calls["ListObjectsV2"], 3)
}

func TestStorage_DeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s, err := New(fake, "caches", "")
	require.NoError(t, err)

	cache, err := s.Open(ctx, "old")
	require.NoError(t, err)
	for _, p := range []string{"/", "/a", "/b"} {
		require.NoError(t, cache.Put(ctx, storetest.Request(t, "GET", "http://localhost:8080"+p), storetest.Response("text/plain", p)))
	}
	_, err = s.Open(ctx, "keep")
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "old")
	require.NoError(t, err)
	assert.True(t, deleted)

	fake.mu.Lock()
	for k := range fake.objects {
		assert.False(t, strings.HasPrefix(k, "old/"), k)
	}
	fake.mu.Unlock()
	assert.True(t, fake.has("keep/"+store.Marker))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.False(t, isNotFound(errors.New("boom")))
}
