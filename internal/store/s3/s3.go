// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package s3 keeps caches in an S3 bucket. Every cache is a key prefix
// holding a marker object plus a YAML record and a body object per entry, the
// same layout the disk store uses.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/staranto/swcache/internal/store"
	"github.com/staranto/swcache/internal/swcache"
)

// maxDeleteBatch is the DeleteObjects limit.
const maxDeleteBatch = 1000

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Storage is a set of caches under one bucket prefix.
type Storage struct {
	client API
	bucket string
	root   string
}

// New returns a Storage rooted at prefix inside bucket. An empty prefix uses
// the bucket root.
func New(client API, bucket string, prefix string) (*Storage, error) {
	if bucket == "" {
		return nil, errors.New("s3 store requires a bucket")
	}
	return &Storage{
		client: client,
		bucket: bucket,
		root:   strings.Trim(prefix, "/"),
	}, nil
}

func (s *Storage) cachePrefix(name string) string {
	return path.Join(s.root, name) + "/"
}

func (s *Storage) rootPrefix() string {
	if s.root == "" {
		return ""
	}
	return s.root + "/"
}

// Open implements swcache.Storage.
func (s *Storage) Open(ctx context.Context, name string) (swcache.Cache, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.cachePrefix(name) + store.Marker),
			Body:   strings.NewReader(stamp),
		}); err != nil {
			return nil, fmt.Errorf("failed to write cache marker: %w", err)
		}
	}
	return &Cache{storage: s, prefix: s.cachePrefix(name)}, nil
}

// Has implements swcache.Storage.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.cachePrefix(name) + store.Marker),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to head cache marker: %w", err)
	}
	return true, nil
}

// Keys implements swcache.Storage. Caches are ordered by the time their
// marker was written.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	type named struct {
		name    string
		created time.Time
	}
	var found []named

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.rootPrefix()),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list caches: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.rootPrefix()), "/")
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.cachePrefix(name) + store.Marker),
			})
			if isNotFound(err) {
				log.Debugf("skipping %s: no cache marker", name)
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to head cache marker: %w", err)
			}
			found = append(found, named{name, aws.ToTime(head.LastModified)})
		}
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

	keys, err := s.list(ctx, s.cachePrefix(name))
	if err != nil {
		return false, err
	}
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
		// DeleteObjects succeeds as a request even when single keys fail.
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return false, fmt.Errorf("failed to delete cache %s: %s: %s (%d of %d keys failed)",
				name, aws.ToString(e.Key), aws.ToString(e.Message), len(out.Errors), len(ids))
		}
	}
	return true, nil
}

// list returns every object key under prefix.
func (s *Storage) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *Storage) get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, true, nil
}

func (s *Storage) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put S3 object: %w", err)
	}
	return nil
}

// remove deletes key, logging failures. It is used for bodies no record
// points at any more.
func (s *Storage) remove(ctx context.Context, key string) {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		log.WithError(err).Warnf("failed to remove replaced body %s", key)
	}
}

// Cache is one cache prefix.
type Cache struct {
	storage *Storage
	prefix  string
}

// record fetches and decodes the record at meta.
func (c *Cache) record(ctx context.Context, meta string) (store.Record, bool, error) {
	raw, ok, err := c.storage.get(ctx, meta)
	if err != nil || !ok {
		return store.Record{}, false, err
	}
	rec, err := store.UnmarshalRecord(raw)
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// Put implements swcache.Cache. The body is uploaded under a fresh key and
// the record is written last, so the record always names a body from the
// same write. The replaced body is deleted afterwards.
func (c *Cache) Put(ctx context.Context, req *swcache.Request, resp *swcache.Response) error {
	if req.Method != http.MethodGet {
		return swcache.ErrNotCacheable
	}

	encoded := store.EncodeKey(req.Key())
	meta := c.prefix + encoded + store.MetaSuffix
	prev, hadPrev, err := c.record(ctx, meta)
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

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := c.storage.put(ctx, c.prefix+rec.Body, resp.Body, contentType); err != nil {
		return err
	}
	if err := c.storage.put(ctx, meta, raw, "application/yaml"); err != nil {
		c.storage.remove(ctx, c.prefix+rec.Body)
		return err
	}

	if hadPrev {
		c.storage.remove(ctx, c.prefix+prev.BodyName(encoded))
	}
	return nil
}

// Match implements swcache.Cache. A body deleted between reading the record
// and reading the body was replaced by a concurrent Put, so the record is
// read again.
func (c *Cache) Match(ctx context.Context, req *swcache.Request) (*swcache.Response, bool, error) {
	if req.Method != http.MethodGet {
		return nil, false, nil
	}

	encoded := store.EncodeKey(req.Key())
	meta := c.prefix + encoded + store.MetaSuffix
	for range store.MatchAttempts {
		rec, ok, err := c.record(ctx, meta)
		if err != nil || !ok {
			return nil, false, err
		}
		data, ok, err := c.storage.get(ctx, c.prefix+rec.BodyName(encoded))
		if err != nil {
			return nil, false, err
		}
		if ok {
			return rec.Response(data), true, nil
		}
	}
	return nil, false, nil
}

// Keys implements swcache.Cache.
func (c *Cache) Keys(ctx context.Context) ([]swcache.Entry, error) {
	keys, err := c.storage.list(ctx, c.prefix)
	if err != nil {
		return nil, err
	}

	var entries []swcache.Entry
	for _, k := range keys {
		if !strings.HasSuffix(k, store.MetaSuffix) {
			continue
		}
		raw, ok, err := c.storage.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, err := store.UnmarshalRecord(raw)
		if err != nil {
			log.WithError(err).Warnf("failed to parse cache record %s", k)
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
func (c *Cache) Delete(ctx context.Context, req *swcache.Request) (bool, error) {
	encoded := store.EncodeKey(req.Key())
	meta := c.prefix + encoded + store.MetaSuffix
	rec, ok, err := c.record(ctx, meta)
	if err != nil {
		log.WithError(err).Debugf("deleting unreadable record %s", meta)
		rec = store.Record{}
	} else if !ok {
		return false, nil
	}

	for _, k := range []string{meta, c.prefix + rec.BodyName(encoded)} {
		if _, err := c.storage.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.storage.bucket),
			Key:    aws.String(k),
		}); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
