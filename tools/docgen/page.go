// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
)

// Section headings recognized in a command doc.
const (
	sectionShort    = "short description"
	sectionExamples = "quick examples"
	sectionFlags    = "flags and related docs"
)

type example struct {
	Desc string
	Cmd  string
}

// page is the parsed form of one docs/commands/<name>.md.
type page struct {
	Name     string
	Title    string
	Short    string
	Examples []example
}

func isHeading(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case sectionShort, sectionExamples, sectionFlags:
		return true
	}
	return false
}

// sections splits md on the recognized headings. Text before the first
// heading is keyed by "".
func sections(md string) map[string][]string {
	out := map[string][]string{}
	current := ""
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		if isHeading(line) {
			current = strings.ToLower(strings.TrimSpace(line))
			continue
		}
		out[current] = append(out[current], line)
	}
	return out
}

func parsePage(name, md string) page {
	p := page{Name: name}
	secs := sections(md)

	for _, line := range secs[""] {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			p.Title = strings.TrimSpace(t)
			break
		}
	}

	var para []string
	for _, line := range secs[sectionShort] {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, line)
	}
	p.Short = strings.Join(para, " ")

	p.Examples = parseExamples(secs[sectionExamples])
	return p
}

// parseExamples reads the first fenced block. A "# " line describes the
// command line that follows it.
func parseExamples(lines []string) []example {
	var exs []example
	inFence := false
	desc := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			if inFence {
				break
			}
			inFence = true
			continue
		}
		if !inFence || line == "" {
			continue
		}
		if d, ok := strings.CutPrefix(line, "#"); ok {
			desc = strings.TrimSpace(d)
			continue
		}
		if desc == "" {
			desc = "Example"
		}
		exs = append(exs, example{Desc: desc, Cmd: strings.Join(strings.Fields(line), " ")})
		desc = ""
	}
	return exs
}

// TLDR renders the page in tldr-pages format.
func (p page) TLDR() string {
	var b strings.Builder
	b.WriteString("# swcache-" + p.Name + "\n\n")

	summary := p.Short
	if summary == "" {
		summary = p.Title
	}
	if summary == "" {
		summary = "swcache " + p.Name
	}
	b.WriteString("> " + summary + "\n")
	b.WriteString("> More information: https://github.com/staranto/swcache.\n")

	exs := p.Examples
	if len(exs) == 0 {
		exs = []example{{Desc: "Show help for the command", Cmd: "swcache " + p.Name + " --help"}}
	}
	for _, ex := range exs {
		b.WriteString("\n- " + ex.Desc + ":\n\n`" + ex.Cmd + "`\n")
	}
	return b.String()
}
