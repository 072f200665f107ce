package value

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/canectors/normalizer/internal/modules/filter"
)

// parenPattern captures a prefix and the content of its first parenthetical.
var parenPattern = regexp.MustCompile(`(.+?)\((.+?)\)`)

// Paren expands "prefix(a,b,c)" into [prefixa, prefixb, prefixc]. Values
// whose parenthetical holds fewer than two non-empty items are returned
// unchanged.
// Run it after Split, which rewrites delimiters inside parentheses to ",".
type Paren struct{}

// NewParen creates a parenthetical expansion transform.
func NewParen() *Paren { return &Paren{} }

// ProcessValue implements filter.ValueFilter.
func (p *Paren) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	m := parenPattern.FindStringSubmatch(s)
	if m == nil {
		return filter.Emit(s), nil
	}
	var items []string
	for _, item := range strings.Split(m[2], ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) < 2 {
		return filter.Emit(s), nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = m[1] + item
	}
	return filter.EmitStrings(out...), nil
}

// ExpandConfig configures the generalized expansion.
type ExpandConfig struct {
	// Pattern must have three capture groups: prefix, expandable middle, suffix.
	Pattern string `json:"pattern,omitempty"`
	// Suffix is a shortcut for the pattern ^()(.*)(<suffix>)$.
	Suffix string `json:"suffix,omitempty"`
	// Separator splits the middle group. Defaults to "/".
	Separator string `json:"separator,omitempty"`
}

// Expand splits the middle group of a matching value and rebuilds one value
// per part as prefix+part+suffix. A part that already ends with the suffix
// keeps it once. Values with fewer than two parts are returned unchanged.
type Expand struct {
	re        *regexp.Regexp
	separator string
}

// NewExpandFromConfig creates an expansion transform.
func NewExpandFromConfig(config ExpandConfig) (*Expand, error) {
	pattern := config.Pattern
	switch {
	case pattern != "" && config.Suffix != "":
		return nil, errors.New("cannot specify both 'pattern' and 'suffix'")
	case pattern == "" && config.Suffix == "":
		return nil, errors.New("'pattern' or 'suffix' is required")
	case pattern == "":
		pattern = "^()(.*)(" + regexp.QuoteMeta(config.Suffix) + ")$"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid expand pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() != 3 {
		return nil, fmt.Errorf("expand pattern %q must have 3 capture groups, has %d", pattern, re.NumSubexp())
	}
	sep := config.Separator
	if sep == "" {
		sep = "/"
	}
	return &Expand{re: re, separator: sep}, nil
}

// ParseExpandConfig parses a raw configuration map into ExpandConfig.
func ParseExpandConfig(config map[string]interface{}) (ExpandConfig, error) {
	var cfg ExpandConfig
	if v, ok := config["pattern"].(string); ok {
		cfg.Pattern = v
	}
	if v, ok := config["suffix"].(string); ok {
		cfg.Suffix = v
	}
	if v, ok := config["separator"].(string); ok {
		cfg.Separator = v
	}
	if cfg.Pattern == "" && cfg.Suffix == "" {
		return cfg, errors.New("'pattern' or 'suffix' is required")
	}
	return cfg, nil
}

// ProcessValue implements filter.ValueFilter.
func (e *Expand) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	m := e.re.FindStringSubmatch(s)
	if m == nil {
		return filter.Emit(s), nil
	}
	prefix, middle, suffix := m[1], m[2], m[3]
	parts := strings.Split(middle, e.separator)
	if len(parts) < 2 {
		return filter.Emit(s), nil
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if suffix != "" && strings.HasSuffix(part, suffix) {
			out = append(out, prefix+part)
			continue
		}
		out = append(out, prefix+part+suffix)
	}
	return filter.EmitStrings(out...), nil
}

var (
	_ filter.ValueFilter = (*Paren)(nil)
	_ filter.ValueFilter = (*Expand)(nil)
)
