// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package attrs

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/staranto/swcache/internal/config"
)

var lengthRegex = regexp.MustCompile(`-?\d+`)

// Attr is one column of a listing: a key into each row plus how to present it.
type Attr struct {
	// The gjson path to extract from each row.
	Key string
	// Should this Attr be included in output or is it just
	// intended for filtering and sorting?
	Include bool
	// The key to use in the output. Also the column title for text output.
	OutputKey string
	// Transformation spec to apply to the output value.
	TransformSpec string
}

// Transform applies the transform spec to value. Spec letters:
//
//	l/L, u/U  lower or upper case (the last one wins)
//	t/T       RFC3339 timestamp to local time (only when a timezone is set)
//	a/A       RFC3339 timestamp to a relative age ("3 minutes ago")
//	b/B       byte count to a human size ("1.2 kB")
//	N / -N    truncate to N, or elide the middle down to N
func (a *Attr) Transform(value interface{}) interface{} {
	if a.TransformSpec == "" {
		return value
	}

	if strings.ContainsAny(a.TransformSpec, "bB") {
		if n, ok := toUint(value); ok {
			value = humanize.Bytes(n)
		}
	}

	result, ok := value.(string)
	if !ok {
		return value
	}

	if strings.ContainsAny(a.TransformSpec, "aA") {
		if t, err := time.Parse(time.RFC3339Nano, result); err == nil {
			result = humanize.Time(t)
		} else {
			log.Debugf("not a timestamp: %s", result)
		}
	} else if strings.ContainsAny(a.TransformSpec, "tT") {
		result = toLocal(result)
	}

	// Whichever case letter appears last wins, so a per-attr spec overrides a
	// global one prepended to it: --attrs '*::U,url::l' is lower case.
	lastL := strings.LastIndexAny(a.TransformSpec, "lL")
	lastU := strings.LastIndexAny(a.TransformSpec, "uU")

	if lastL > lastU {
		result = strings.ToLower(result)
	} else if lastU > lastL {
		result = strings.ToUpper(result)
	}

	// Same rule for lengths: take the last (overriding) one.
	if match := lengthRegex.FindAllString(a.TransformSpec, -1); len(match) != 0 {
		l, _ := strconv.Atoi(match[len(match)-1])
		abs := int(math.Abs(float64(l)))
		if len(result) > abs {
			if l < 0 {
				lr := abs/2 - 1
				if lr < 1 {
					lr = 1
				}
				result = result[:lr] + ".." + result[len(result)-lr:]
			} else {
				result = result[:l]
			}
		}
	}

	return result
}

// toLocal converts an RFC3339 timestamp into the configured timezone. With no
// timezone configured the value passes through.
func toLocal(value string) string {
	tz, _ := config.GetString("timezone", "")
	if tz == "" {
		tz = os.Getenv("TZ")
	}
	if tz == "" {
		return value
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Errorf("unknown timezone: %s", tz)
		return value
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		log.Error("failed to parse time: " + value)
		return value
	}
	return t.In(loc).Format("2006-01-02T15:04:05MST")
}

func toUint(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case int:
		return uint64(max(v, 0)), true
	case int64:
		return uint64(max(v, 0)), true
	case float64:
		return uint64(math.Max(v, 0)), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

type AttrList []Attr

// String renders the list back into --attrs form.
func (a *AttrList) String() string {
	result := make([]string, 0, len(*a))
	for _, attr := range *a {
		result = append(result, fmt.Sprintf("%s:%s:%s", attr.Key, attr.OutputKey, attr.TransformSpec))
	}
	return strings.Join(result, ",")
}

// Set parses a comma-separated --attrs value into the list. Each spec is
// key[:output[:transform]]. A leading ! keeps the attr for filtering and
// sorting but hides it from output. Specs naming an existing attr modify it
// in place.
func (a *AttrList) Set(value string) error {
	if value == "" || value == "*" {
		return nil
	}

	const (
		keyIdx = iota
		outputIdx
		transformIdx
	)

specloop:
	for _, spec := range strings.Split(value, ",") {
		attr := Attr{
			Include: true,
		}

		fields := strings.Split(spec, ":")

		attr.Key = strings.TrimPrefix(strings.TrimSpace(fields[keyIdx]), ".")
		if strings.HasPrefix(attr.Key, "!") {
			attr.Include = false
			attr.Key = attr.Key[1:]
		}
		if attr.Key == "" {
			return fmt.Errorf("empty attribute in %q", spec)
		}

		if attr.Key == "*" {
			attr.Include = false
		}

		// With a single field the output key is the last path segment.
		if len(fields) == 1 || fields[outputIdx] == "" {
			segments := strings.Split(attr.Key, ".")
			attr.OutputKey = segments[len(segments)-1]
		} else {
			attr.OutputKey = strings.TrimSpace(fields[outputIdx])
		}

		if len(fields) > transformIdx {
			attr.TransformSpec = strings.TrimSpace(fields[transformIdx])
		}

		for i := range *a {
			if (*a)[i].Key == attr.Key || (*a)[i].OutputKey == attr.Key {
				(*a)[i].Include = attr.Include
				(*a)[i].OutputKey = attr.OutputKey
				(*a)[i].TransformSpec = attr.TransformSpec
				continue specloop
			}
		}

		*a = append(*a, attr)
	}

	return nil
}

// SetGlobalTransformSpec prepends the transform spec of a "*" attr, if any,
// to every attr in the list.
func (alist *AttrList) SetGlobalTransformSpec() error {
	spec := ""

	for a := range *alist {
		if (*alist)[a].Key == "*" {
			spec = (*alist)[a].TransformSpec
			break
		}
	}

	if spec == "" {
		return nil
	}

	for a := range *alist {
		(*alist)[a].TransformSpec = spec + "," + (*alist)[a].TransformSpec
	}

	return nil
}

func (a *AttrList) Type() string {
	return "list"
}
