// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/tidwall/gjson"

	"github.com/staranto/swcache/internal/attrs"
)

// filterRegex splits a filter into key, operator and target. Any operator
// may be negated with a leading !.
var filterRegex = regexp.MustCompile(`^(.*?)(!?[=^~><@/])(.*)$`)

// Filter is one parsed --filter expression, e.g. status!=200.
//
//	=  equal            ~  equal, ignoring case
//	^  has prefix       @  contains (substring, list item or map key)
//	<  less than        >  greater than
//	/  matches regex
type Filter struct {
	Key     string
	Negate  bool
	Operand string
	Target  string
}

// ParseFilter parses a single filter expression.
func ParseFilter(expr string) (Filter, error) {
	parts := filterRegex.FindStringSubmatch(expr)
	if parts == nil || parts[1] == "" {
		return Filter{}, fmt.Errorf("invalid filter: %s", expr)
	}
	op, negate := strings.CutPrefix(parts[2], "!")
	return Filter{Key: parts[1], Negate: negate, Operand: op, Target: parts[3]}, nil
}

// BuildFilters parses a delimited list of filters. The delimiter is "," unless
// SWCACHE_FILTER_DELIM says otherwise. Invalid expressions are logged and
// dropped.
func BuildFilters(spec string) []Filter {
	if spec == "" {
		return nil
	}

	delim := ","
	if d, ok := os.LookupEnv("SWCACHE_FILTER_DELIM"); ok && d != "" {
		delim = d
	}

	var filters []Filter
	for _, expr := range strings.Split(spec, delim) {
		f, err := ParseFilter(expr)
		if err != nil {
			log.Error(err.Error())
			continue
		}
		filters = append(filters, f)
	}
	return filters
}

// FilterDataset keeps the rows of candidates that pass every filter in spec
// and projects each onto attrs, keyed by output key. Transforms are not
// applied here.
func FilterDataset(candidates gjson.Result, al attrs.AttrList, spec string) []map[string]interface{} {
	filters := BuildFilters(spec)

	var rows []map[string]interface{}
	for _, candidate := range candidates.Array() {
		if !matchesAll(candidate, al, filters) {
			continue
		}
		row := make(map[string]interface{}, len(al))
		for _, attr := range al {
			row[attr.OutputKey] = candidate.Get(attr.Key).Value()
		}
		rows = append(rows, row)
	}
	return rows
}

// matchesAll reports whether candidate passes every filter. A filter key names
// an attr by its output key, or else is used as a path into the row. A row
// without the key never matches.
func matchesAll(candidate gjson.Result, al attrs.AttrList, filters []Filter) bool {
	for _, f := range filters {
		path := f.Key
		if i := slices.IndexFunc(al, func(a attrs.Attr) bool { return a.OutputKey == f.Key }); i >= 0 {
			path = al[i].Key
		}

		value := candidate.Get(path).Value()
		if value == nil || !f.Match(value) {
			return false
		}
	}
	return true
}

// Match applies the filter to a decoded JSON value.
func (f Filter) Match(value interface{}) bool {
	var ok bool
	switch v := value.(type) {
	case string:
		ok = f.matchString(v)
	case bool:
		ok = f.matchString(strconv.FormatBool(v))
	case float64:
		ok = f.matchNumber(v)
	case []interface{}:
		if f.Operand != "@" {
			return false
		}
		ok = slices.ContainsFunc(v, func(item interface{}) bool {
			return fmt.Sprint(item) == f.Target
		})
	case map[string]interface{}:
		if f.Operand != "@" {
			return false
		}
		_, ok = v[f.Target]
	default:
		log.Errorf("unsupported type for filtering: %T", value)
		return false
	}
	return ok != f.Negate
}

func (f Filter) matchString(v string) bool {
	switch f.Operand {
	case "=":
		return v == f.Target
	case "~":
		return strings.EqualFold(v, f.Target)
	case "^":
		return strings.HasPrefix(v, f.Target)
	case ">":
		return v > f.Target
	case "<":
		return v < f.Target
	case "@":
		return strings.Contains(v, f.Target)
	case "/":
		matched, err := regexp.MatchString(f.Target, v)
		if err != nil {
			log.Errorf("invalid regex: %s", f.Target)
			return false
		}
		return matched
	default:
		return false
	}
}

// matchNumber compares numerically when the target is a number and the
// operand orders or equates; everything else uses the string form.
func (f Filter) matchNumber(v float64) bool {
	target, err := strconv.ParseFloat(f.Target, 64)
	if err == nil {
		switch f.Operand {
		case "=":
			return v == target
		case ">":
			return v > target
		case "<":
			return v < target
		}
	}
	return f.matchString(strconv.FormatFloat(v, 'f', -1, 64))
}
