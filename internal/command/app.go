// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT
package command

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/config"
	"github.com/staranto/swcache/internal/meta"
)

func InitApp(ctx context.Context, args []string) (*cli.Command, error) {
	sd, _ := os.Getwd()

	// The arg[1] immediately following the binary (arg[0]) is the subcommand
	// and also the namespace used when retrieving config values. arg[1] could
	// be -h/--help, so ignore it if it appears to be a flag.
	var ns string
	if len(args) > 1 && !strings.HasPrefix(args[1], "-") {
		ns = args[1]
	}

	cfg, err := config.Reload()
	if err != nil {
		log.Debugf("no config file: %v", err)
	}
	config.SetNamespace(ns)
	cfg.Namespace = ns

	meta := meta.Meta{
		Args:        args,
		Config:      cfg,
		Context:     ctx,
		StartingDir: sd,
	}

	app := &cli.Command{
		Name:  "swcache",
		Usage: "offline cache manager and caching proxy",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "version",
				Aliases:     []string{"v"},
				Usage:       "swcache version info",
				HideDefault: true,
			},
		},
	}

	app.Commands = append(app.Commands,
		ActivateCommandBuilder(app, meta),
		CachesCommandBuilder(app, meta, NewGlobalFlags),
		DiffCommandBuilder(app, meta),
		EntriesCommandBuilder(app, meta, NewGlobalFlags),
		FetchCommandBuilder(app, meta),
		InstallCommandBuilder(app, meta),
		ServeCommandBuilder(app, meta),
		CompletionCommandBuilder(app, meta),
	)

	// Make sure flags are sorted for the --help text.
	for _, cmd := range app.Commands {
		sort.Slice(cmd.Flags, func(i, j int) bool {
			return cmd.Flags[i].Names()[0] < cmd.Flags[j].Names()[0]
		})
	}

	return app, nil
}
