// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Command docgen renders docs/commands/*.md into man pages and tldr pages.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	md2man "github.com/cpuguy83/go-md2man/v2/md2man"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "docgen",
		Usage: "render swcache command docs into man and tldr pages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "repo root"},
			&cli.BoolFlag{Name: "force", Usage: "rewrite pages even when unchanged"},
		},
		Action: run,
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.WithError(err).Fatal("docgen failed")
	}
}

func run(_ context.Context, cmd *cli.Command) error {
	root := cmd.String("root")
	src := filepath.Join(root, "docs", "commands")
	manDir := filepath.Join(root, "docs", "man", "share", "man1")
	tldrDir := filepath.Join(root, "docs", "tldr")

	for _, dir := range []string{manDir, tldrDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	docs, err := filepath.Glob(filepath.Join(src, "*.md"))
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no command docs under %s", src)
	}

	for _, doc := range docs {
		raw, err := os.ReadFile(doc)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", doc, err)
		}
		name := strings.TrimSuffix(filepath.Base(doc), ".md")
		p := parsePage(name, string(raw))

		outputs := map[string][]byte{
			filepath.Join(manDir, "swcache-"+name+".1"): md2man.Render(raw),
			filepath.Join(tldrDir, "swcache-"+name+".md"): []byte(p.TLDR()),
		}
		for path, content := range outputs {
			wrote, err := writePage(path, content, cmd.Bool("force"))
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			if wrote {
				log.Infof("wrote %s", path)
			}
		}
	}
	return nil
}

// writePage writes content to path unless the file already holds the same
// text, ignoring surrounding whitespace.
func writePage(path string, content []byte, force bool) (bool, error) {
	if !force {
		if old, err := os.ReadFile(path); err == nil &&
			strings.TrimSpace(string(old)) == strings.TrimSpace(string(content)) {
			return false, nil
		}
	}
	return true, os.WriteFile(path, content, 0o644) //nolint:mnd,gosec
}
