// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"
	diff "github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/staranto/swcache/internal/meta"
	"github.com/staranto/swcache/internal/swcache"
)

// diffView is what gets compared for each entry. Storage times always differ
// between caches, so they are left out.
type diffView struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// entryDocument keys a cache's entries by URL so gojsondiff compares like
// with like.
func entryDocument(entries []swcache.Entry) ([]byte, map[string]interface{}, error) {
	doc := make(map[string]diffView, len(entries))
	for _, e := range entries {
		doc[e.Method+" "+e.URL] = diffView{Status: e.Status, ContentType: e.ContentType, Size: e.Size}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal entries: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, nil, err
	}
	return raw, generic, nil
}

// DiffCaches renders the differences between two caches' entry listings. The
// second return is false when they hold the same entries.
func DiffCaches(ctx context.Context, storage swcache.Storage, a, b string, color bool) (string, bool, error) {
	left, err := listEntries(ctx, storage, a)
	if err != nil {
		return "", false, err
	}
	right, err := listEntries(ctx, storage, b)
	if err != nil {
		return "", false, err
	}

	leftRaw, leftDoc, err := entryDocument(left)
	if err != nil {
		return "", false, err
	}
	rightRaw, _, err := entryDocument(right)
	if err != nil {
		return "", false, err
	}

	d, err := diff.New().Compare(leftRaw, rightRaw)
	if err != nil {
		return "", false, fmt.Errorf("failed to compare caches: %w", err)
	}
	if !d.Modified() {
		return "", false, nil
	}

	f := formatter.NewAsciiFormatter(leftDoc, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       color,
	})
	out, err := f.Format(d)
	if err != nil {
		return "", false, fmt.Errorf("failed to format diff: %w", err)
	}
	return out, true, nil
}

// DiffCommandAction compares two caches in the same store.
func DiffCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if ShortCircuitTLDR(ctx, cmd, "diff") {
		return nil
	}

	if cmd.Args().Len() != 2 {
		return errors.New("diff requires two cache names")
	}

	storage, err := OpenStorage(ctx, cmd)
	if err != nil {
		return err
	}

	out, changed, err := DiffCaches(ctx, storage, cmd.Args().Get(0), cmd.Args().Get(1), cmd.Bool("color"))
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(writer(cmd), "no differences")
		return nil
	}
	fmt.Fprint(writer(cmd), out)
	return nil
}

func DiffCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	c := cacheBuilder("diff", meta, NewStoreFlags("diff"), []cli.Flag{
		&cli.BoolWithInverseFlag{
			Name:    "color",
			Aliases: []string{"c"},
			Usage:   "enable colored diff output",
			Sources: cli.NewValueSourceChain(configSources("diff", "color")...),
		},
	})
	c.Usage = "show how two caches differ"
	c.UsageText = "swcache diff OLD NEW"
	c.Action = DiffCommandAction
	return c
}
