// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/swcache"
)

// CacheSummary is one row of the caches listing.
type CacheSummary struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Current bool   `json:"current"`
	Oldest  string `json:"oldest,omitempty"`
	Newest  string `json:"newest,omitempty"`
}

// summarize walks every cache in storage. Opening a listed cache never creates
// one, since it already exists.
func summarize(ctx context.Context, storage swcache.Storage, current string) ([]CacheSummary, error) {
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	results := make([]CacheSummary, 0, len(names))
	for _, name := range names {
		c, err := storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
		}
		entries, err := c.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list cache %s: %w", name, err)
		}

		s := CacheSummary{Name: name, Entries: len(entries), Current: name == current}
		for i, e := range entries {
			s.Bytes += e.Size
			stamp := e.StoredAt.UTC().Format(time.RFC3339Nano)
			if i == 0 {
				s.Oldest = stamp
			}
			s.Newest = stamp
		}
		results = append(results, s)
	}
	return results, nil
}

// CachesCommandAction lists the caches in a store.
func CachesCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "caches") {
		return nil
	}

	al, err := BuildAttrs(cmd, "name,entries,bytes::b,current")
	if err != nil {
		return err
	}
	log.Debugf("attrs: %v", al)

	storage, err := OpenStorage(ctx, cmd)
	if err != nil {
		return err
	}
	results, err := summarize(ctx, storage, cmd.String("cache"))
	if err != nil {
		return err
	}

	return EmitJSONSlice(results, al, cmd)
}

func CachesCommandBuilder(cmd *cli.Command, meta meta.Meta, globalFlags func(...string) []cli.Flag) *cli.Command {
	c := cacheBuilder("caches", meta, NewStoreFlags("caches"), globalFlags("caches"), []cli.Flag{
		NameSpacedValueChainFlagFromConfigFile("caches", "cache.version", &cli.StringFlag{
			Name:    "cache",
			Aliases: []string{"n"},
			Usage:   "cache version to mark as current",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_VERSION")),
			Value:   swcache.DefaultVersion,
		}),
	})
	c.Usage = "list the caches in a store"
	c.UsageText = "swcache caches [--store memory|disk|s3] [--output text|json|yaml]"
	c.Action = CachesCommandAction
	return c
}
