// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/apex/log"
	humanize "github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/swcache"
)

// FetchCommandAction runs one request through the cache manager exactly as
// the proxy would and reports what it answered with.
func FetchCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "fetch") {
		return nil
	}

	if cmd.Args().Len() != 1 {
		return errors.New("fetch requires exactly one URL or path")
	}

	mgr, _, err := managerFromFlags(ctx, cmd)
	if err != nil {
		return err
	}

	mode := swcache.ModeNoCORS
	if cmd.Bool("navigate") {
		mode = swcache.ModeNavigate
	}

	target := cmd.Args().First()
	var req *swcache.Request
	if strings.Contains(target, "://") {
		req, err = swcache.NewRequest(cmd.String("method"), target, mode)
	} else {
		req, err = mgr.Resolve(target, mode)
		if err == nil {
			req.Method = strings.ToUpper(cmd.String("method"))
		}
	}
	if err != nil {
		return err
	}

	res, err := mgr.Dispatch(ctx, swcache.Event{Kind: swcache.EventFetch, Request: req}).Wait(ctx)
	if err != nil {
		return err
	}

	w := writer(cmd)
	fr := res.Fetch
	if !fr.Handled {
		fmt.Fprintf(w, "%s %s: not intercepted (%s)\n", req.Method, req.URL, fr.Source)
		return nil
	}

	if cmd.Bool("body") {
		_, err := w.Write(fr.Response.Body)
		return err
	}
	fmt.Fprintf(w, "%d %s source=%s size=%s\n",
		fr.Response.Status, fr.Response.StatusText, fr.Source, humanize.Bytes(uint64(len(fr.Response.Body))))
	return nil
}

func FetchCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	c := cacheBuilder("fetch", meta, NewStoreFlags("fetch"), NewCacheFlags("fetch"), []cli.Flag{
		NewOriginFlag("fetch"),
		timeoutFlag(),
		&cli.BoolFlag{
			Name:    "navigate",
			Aliases: []string{"N"},
			Usage:   "treat the request as a page navigation (network first)",
		},
		&cli.StringFlag{
			Name:  "method",
			Usage: "request method. Anything but GET is passed through",
			Value: http.MethodGet,
		},
		&cli.BoolFlag{
			Name:  "body",
			Usage: "write the response body instead of a summary",
		},
	})
	c.Usage = "run one request through the cache"
	c.UsageText = "swcache fetch [--navigate] URL|PATH"
	c.Action = FetchCommandAction
	return c
}
