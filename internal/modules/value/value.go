// Package value provides the value transforms applied by column adapters:
// text normalization, splitting and expansion of multi-valued fields,
// numeric range parsing, canonical-name resolution and user scripts.
//
// Every transform implements filter.ValueFilter. Transforms only interpret
// string values; values of other types (a parsed range, a number) are passed
// through unchanged unless the transform is documented to consume them.
package value

import (
	"fmt"
	"regexp"

	"github.com/canectors/normalizer/internal/modules/filter"
)

// DefaultUnknown is written where a value is known to exist but could not be
// determined from the source text.
const DefaultUnknown = "★不明"

// unknownOr returns u, or DefaultUnknown when u is empty.
func unknownOr(u string) string {
	if u == "" {
		return DefaultUnknown
	}
	return u
}

// asString returns v as a string when it is one.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// passThrough returns v unchanged.
func passThrough(v any) filter.Output {
	return filter.Emit(v)
}

// compileAll compiles a list of patterns, naming the offending one on error.
func compileAll(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", field, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// stringList reads a []interface{} or []string config value.
func stringList(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case string:
		if t != "" {
			return []string{t}
		}
	}
	return nil
}
