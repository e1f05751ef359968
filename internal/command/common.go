// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/attrs"
	swaws "github.com/staranto/swcache/internal/aws"
	"github.com/staranto/swcache/internal/config"
	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/output"
	"github.com/staranto/swcache/internal/store/disk"
	"github.com/staranto/swcache/internal/store/memory"
	s3store "github.com/staranto/swcache/internal/store/s3"
	"github.com/staranto/swcache/internal/swcache"
)

// ShortCircuitTLDR checks the --tldr flag and, if present and available,
// runs `tldr swcache <subcmd>` and returns true so the caller can exit early.
func ShortCircuitTLDR(ctx context.Context, cmd *cli.Command, subcmd string) bool {
	if cmd.Bool("tldr") {
		if _, err := exec.LookPath("tldr"); err == nil {
			c := exec.CommandContext(ctx, "tldr", "swcache", subcmd)
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			_ = c.Run()
		}
		return true
	}
	return false
}

// BuildAttrs constructs an AttrList with defaults and optional extras from
// --attrs, then applies the global transform spec.
func BuildAttrs(cmd *cli.Command, defaults ...string) (al attrs.AttrList, err error) {
	for _, d := range defaults {
		if err = al.Set(d); err != nil {
			return nil, err
		}
	}
	if extras := cmd.String("attrs"); extras != "" {
		if err = al.Set(extras); err != nil {
			return nil, fmt.Errorf("invalid --attrs: %w", err)
		}
	}
	err = al.SetGlobalTransformSpec()
	return
}

// EmitJSONSlice marshals results and passes them to the common output routine.
func EmitJSONSlice(results any, al attrs.AttrList, cmd *cli.Command) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	return output.SliceDiceSpit(*bytes.NewBuffer(raw), al, cmd, "", writer(cmd))
}

// writer returns where command output goes.
func writer(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}

// GetMeta returns the meta.Meta stored in the command's Metadata. If missing
// or of an unexpected type, it returns the zero value.
func GetMeta(cmd *cli.Command) meta.Meta {
	if cmd == nil || cmd.Metadata == nil {
		return meta.Meta{}
	}
	if m, ok := cmd.Metadata["meta"].(meta.Meta); ok {
		return m
	}
	return meta.Meta{}
}

// OpenStorage builds the store selected by --store.
func OpenStorage(ctx context.Context, cmd *cli.Command) (swcache.Storage, error) {
	kind := cmd.String("store")
	log.Debugf("store: %s", kind)

	switch kind {
	case "memory":
		return memory.New(), nil
	case "disk", "":
		return disk.New(cmd.String("store-dir"))
	case "s3":
		client, err := swaws.NewS3Client(ctx,
			swaws.WithProfile(cmd.String("s3-profile")),
			swaws.WithRegion(cmd.String("s3-region")),
			swaws.WithEndpoint(cmd.String("s3-endpoint")),
			swaws.WithMaxAttempts(int(cmd.Int("s3-max-attempts"))),
		)
		if err != nil {
			return nil, err
		}
		return s3store.New(client, cmd.String("s3-bucket"), cmd.String("s3-prefix"))
	default:
		return nil, fmt.Errorf("unknown store: %s", kind)
	}
}

// BuildConfig assembles the manager config from flags, then the config file,
// then built-in defaults.
func BuildConfig(cmd *cli.Command) (swcache.Config, error) {
	c := swcache.Config{
		Version:    cmd.String("cache"),
		Fallback:   cmd.String("fallback"),
		CoreAssets: cmd.StringSlice("asset"),
	}

	if len(c.CoreAssets) == 0 {
		assets, err := config.GetStringSlice("cache.assets", swcache.DefaultCoreAssets)
		if err != nil {
			return swcache.Config{}, fmt.Errorf("invalid cache.assets: %w", err)
		}
		c.CoreAssets = assets
	}

	c.SetDefaults()
	return c, nil
}

// Origin parses --origin.
func Origin(cmd *cli.Command) (*url.URL, error) {
	u, err := url.Parse(cmd.String("origin"))
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	return u, nil
}

// cacheBuilder returns a standard command with metadata, the tldr flag and
// the global flag validator wired in.
func cacheBuilder(name string, meta meta.Meta, flags ...[]cli.Flag) *cli.Command {
	all := []cli.Flag{tldrFlag}
	for _, f := range flags {
		all = append(all, f...)
	}
	return &cli.Command{
		Name: name,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: all,
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, GlobalFlagsValidator(ctx, c)
		},
	}
}
