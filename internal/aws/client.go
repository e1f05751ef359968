// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// options holds the overrides for building the S3 client. The zero value
// inherits the shell's AWS setup (AWS_PROFILE, ~/.aws/config, env, IMDS).
type options struct {
	profile     string
	region      string
	endpoint    string
	maxAttempts int
}

// Option customizes the S3 client.
type Option func(*options)

// WithProfile selects a shared config profile.
func WithProfile(profile string) Option {
	return func(o *options) { o.profile = profile }
}

// WithRegion overrides the region chain.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithEndpoint points the client at an S3-compatible endpoint such as MinIO.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithMaxAttempts bounds retries of each S3 call. Zero keeps the SDK default.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// loadOptions translates options into config loader options.
func (o options) loadOptions() []func(*config.LoadOptions) error {
	var lo []func(*config.LoadOptions) error
	if o.profile != "" {
		lo = append(lo, config.WithSharedConfigProfile(o.profile))
	}
	if o.region != "" {
		lo = append(lo, config.WithRegion(o.region))
	}
	if o.maxAttempts > 0 {
		n := o.maxAttempts
		lo = append(lo, config.WithRetryer(func() awsv2.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), n)
		}))
	}
	return lo
}

// s3Options returns the service options. Custom endpoints generally need
// path-style addressing.
func (o options) s3Options(so *s3v2.Options) {
	if o.endpoint == "" {
		return
	}
	so.BaseEndpoint = awsv2.String(o.endpoint)
	so.UsePathStyle = true
}

// NewS3Client loads the AWS config and builds the client the S3 cache store
// talks to.
func NewS3Client(ctx context.Context, opts ...Option) (*s3v2.Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.LoadDefaultConfig(ctx, o.loadOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3v2.NewFromConfig(cfg, o.s3Options), nil
}
