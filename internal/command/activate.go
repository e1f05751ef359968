// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/swcache"
)

// ActivateCommandAction deletes every cache other than the configured version.
func ActivateCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "activate") {
		return nil
	}

	mgr, _, err := managerFromFlags(ctx, cmd)
	if err != nil {
		return err
	}

	res, err := mgr.Dispatch(ctx, swcache.Event{Kind: swcache.EventActivate}).Wait(ctx)
	w := writer(cmd)
	for _, name := range res.Deleted {
		fmt.Fprintf(w, "deleted %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(res.Deleted) == 0 {
		fmt.Fprintf(w, "nothing to delete, %s is the only cache\n", mgr.Version())
	}
	return nil
}

func ActivateCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	c := cacheBuilder("activate", meta, NewStoreFlags("activate"), NewCacheFlags("activate"), []cli.Flag{
		NewOriginFlag("activate"),
	})
	c.Usage = "delete every cache except the current version"
	c.UsageText = "swcache activate [--cache NAME]"
	c.Action = ActivateCommandAction
	return c
}
