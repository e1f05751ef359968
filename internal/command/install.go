// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/fetch"
	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/swcache"
	"github.com/staranto/swcache/internal/version"
)

// managerFromFlags builds a cache manager from the store, cache and origin
// flags. The storage is returned too for commands that inspect it.
func managerFromFlags(ctx context.Context, cmd *cli.Command) (*swcache.Manager, swcache.Storage, error) {
	origin, err := Origin(cmd)
	if err != nil {
		return nil, nil, err
	}
	storage, err := OpenStorage(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := BuildConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	fetcher := fetch.NewHTTP(
		fetch.WithTimeout(cmd.Duration("timeout")),
		fetch.WithUserAgent("swcache/"+version.Version),
	)
	m, err := swcache.New(cfg, origin, storage, fetcher)
	if err != nil {
		return nil, nil, err
	}
	return m, storage, nil
}

// InstallCommandAction precaches the core assets into the configured version.
func InstallCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "install") {
		return nil
	}

	mgr, _, err := managerFromFlags(ctx, cmd)
	if err != nil {
		return err
	}

	if _, err := mgr.Dispatch(ctx, swcache.Event{Kind: swcache.EventInstall}).Wait(ctx); err != nil {
		return err
	}

	fmt.Fprintf(writer(cmd), "installed %s: %d assets\n", mgr.Version(), len(mgr.Config().CoreAssets))
	return nil
}

func InstallCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	c := cacheBuilder("install", meta, NewStoreFlags("install"), NewCacheFlags("install"), []cli.Flag{
		NewOriginFlag("install"),
		timeoutFlag(),
	})
	c.Usage = "precache the core assets of a cache version"
	c.UsageText = "swcache install [--origin URL] [--cache NAME] [--asset PATH]..."
	c.Action = InstallCommandAction
	return c
}

func timeoutFlag() *cli.DurationFlag {
	return &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "timeout for each fetch from the origin. 0 means none",
		Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_TIMEOUT")),
	}
}
