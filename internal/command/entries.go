// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	perrors "github.com/jmgilman/go/errors"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/swcache"
)

// listEntries returns the entries of an existing cache. Unlike Open, it never
// creates the cache.
func listEntries(ctx context.Context, storage swcache.Storage, name string) ([]swcache.Entry, error) {
	ok, err := storage.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.Newf(perrors.CodeNotFound, "no such cache: %s", name)
	}
	c, err := storage.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	entries, err := c.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache %s: %w", name, err)
	}
	if entries == nil {
		entries = []swcache.Entry{}
	}
	return entries, nil
}

// EntriesCommandAction lists the entries of one cache.
func EntriesCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "entries") {
		return nil
	}

	al, err := BuildAttrs(cmd, "url,status,content_type:type,size::b,stored_at:age:a")
	if err != nil {
		return err
	}
	log.Debugf("attrs: %v", al)

	name := cmd.String("cache")
	if cmd.Args().Len() > 0 {
		name = cmd.Args().First()
	}

	storage, err := OpenStorage(ctx, cmd)
	if err != nil {
		return err
	}
	entries, err := listEntries(ctx, storage, name)
	if err != nil {
		return err
	}

	return EmitJSONSlice(entries, al, cmd)
}

func EntriesCommandBuilder(cmd *cli.Command, meta meta.Meta, globalFlags func(...string) []cli.Flag) *cli.Command {
	c := cacheBuilder("entries", meta, NewStoreFlags("entries"), globalFlags("entries"), []cli.Flag{
		NameSpacedValueChainFlagFromConfigFile("entries", "cache.version", &cli.StringFlag{
			Name:    "cache",
			Aliases: []string{"n"},
			Usage:   "cache to list. A positional name takes precedence",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_VERSION")),
			Value:   swcache.DefaultVersion,
		}),
	})
	c.Usage = "list the entries of a cache"
	c.UsageText = "swcache entries [NAME] [--attrs ...] [--filter ...] [--sort ...] [--output text|json|yaml]"
	c.Action = EntriesCommandAction
	return c
}
