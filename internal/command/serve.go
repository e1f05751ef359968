// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/config"
	"github.com/staranto/swcache/internal/fetch"
	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/proxy"
	"github.com/staranto/swcache/internal/swcache"
	"github.com/staranto/swcache/internal/version"
	"github.com/staranto/swcache/internal/worker"
)

const shutdownGrace = 5 * time.Second

// ServeCommandAction runs the caching proxy until interrupted. SIGHUP
// re-reads the config file and installs the configured version, which is
// how a new cache version is rolled out without a restart.
func ServeCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "serve") {
		return nil
	}

	origin, err := Origin(cmd)
	if err != nil {
		return err
	}
	storage, err := OpenStorage(ctx, cmd)
	if err != nil {
		return err
	}
	cfg, err := BuildConfig(cmd)
	if err != nil {
		return err
	}

	fetcher := fetch.NewHTTP(
		fetch.WithTimeout(cmd.Duration("timeout")),
		fetch.WithUserAgent("swcache/"+version.Version),
	)
	host := worker.New(origin, storage, fetcher)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The proxy passes everything through until the first install lands.
	go func() {
		if err := host.Register(ctx, cfg); err != nil {
			log.WithError(err).Errorf("failed to register %s", cfg.Version)
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go watchReload(ctx, cmd, host, hup)

	srv := &http.Server{
		Addr:              cmd.String("listen"),
		Handler:           proxy.New(host, origin, storage),
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("serving %s on %s", origin, srv.Addr)
		fmt.Fprintf(writer(cmd), "swcache %s fronting %s on %s\n", cfg.Version, origin, srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// watchReload installs a fresh config on every signal received on hup.
func watchReload(ctx context.Context, cmd *cli.Command, host *worker.Host, hup <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		cfg, err := reloadConfig(cmd)
		if err != nil {
			log.WithError(err).Warn("config not reloaded")
			continue
		}
		if err := host.Update(ctx, cfg); err != nil {
			log.WithError(err).Errorf("failed to update to %s", cfg.Version)
		}
	}
}

// reloadConfig re-reads the config file and rebuilds the manager config.
// Flag values resolved at startup are stale by now, so values from the file
// win unless the flag was given on the command line or through its env var.
func reloadConfig(cmd *cli.Command) (swcache.Config, error) {
	if _, err := config.Reload(); err != nil {
		return swcache.Config{}, fmt.Errorf("failed to reload config: %w", err)
	}
	cfg, err := BuildConfig(cmd)
	if err != nil {
		return swcache.Config{}, err
	}

	for _, o := range []struct {
		flag, env, key string
		dst            *string
	}{
		{"cache", "SWCACHE_VERSION", "cache.version", &cfg.Version},
		{"fallback", "SWCACHE_FALLBACK", "cache.fallback", &cfg.Fallback},
	} {
		if os.Getenv(o.env) != "" || onCommandLine(cmd, o.flag) {
			continue
		}
		if v, err := config.GetString(o.key); err == nil && v != "" {
			*o.dst = v
		}
	}
	return cfg, nil
}

// onCommandLine reports whether the flag named name, or one of its aliases,
// appears in the original arguments.
func onCommandLine(cmd *cli.Command, name string) bool {
	var names []string
	for _, f := range cmd.Flags {
		if slices.Contains(f.Names(), name) {
			names = f.Names()
			break
		}
	}

	for _, arg := range GetMeta(cmd).Args {
		if arg == "--" {
			return false
		}
		for _, n := range names {
			dashed := "--" + n
			if len(n) == 1 {
				dashed = "-" + n
			}
			if arg == dashed || strings.HasPrefix(arg, dashed+"=") {
				return true
			}
		}
	}
	return false
}

func ServeCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	c := cacheBuilder("serve", meta, NewStoreFlags("serve"), NewCacheFlags("serve"), []cli.Flag{
		NewOriginFlag("serve"),
		NameSpacedValueChainFlagFromConfigFile("serve", "listen", &cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Usage:   "address to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_LISTEN")),
			Value:   "127.0.0.1:8081",
		}),
		timeoutFlag(),
	})
	c.Usage = "run the offline caching proxy in front of an origin"
	c.UsageText = "swcache serve [--origin URL] [--listen ADDR] [--store memory|disk|s3]"
	c.Action = ServeCommandAction
	return c
}
