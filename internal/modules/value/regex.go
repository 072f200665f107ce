package value

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/canectors/normalizer/internal/modules/filter"
)

// backrefPattern matches \1-style back references in replacements.
var backrefPattern = regexp.MustCompile(`\\(\d)`)

// RemoveConfig configures the remove transform.
type RemoveConfig struct {
	// Patterns are regular expressions whose matches are deleted, in order.
	Patterns []string `json:"patterns"`
}

// Remove deletes every match of its patterns. A value left empty is dropped.
type Remove struct {
	patterns []*regexp.Regexp
}

// NewRemoveFromConfig creates a remove transform.
func NewRemoveFromConfig(config RemoveConfig) (*Remove, error) {
	if len(config.Patterns) == 0 {
		return nil, errors.New("at least one pattern is required")
	}
	patterns, err := compileAll("remove", config.Patterns)
	if err != nil {
		return nil, err
	}
	return &Remove{patterns: patterns}, nil
}

// ParseRemoveConfig parses a raw configuration map into RemoveConfig.
func ParseRemoveConfig(config map[string]interface{}) (RemoveConfig, error) {
	var cfg RemoveConfig
	cfg.Patterns = stringList(config["patterns"])
	cfg.Patterns = append(cfg.Patterns, stringList(config["pattern"])...)
	if len(cfg.Patterns) == 0 {
		return cfg, errors.New("'pattern' or 'patterns' is required")
	}
	return cfg, nil
}

// ProcessValue implements filter.ValueFilter.
func (r *Remove) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, "")
	}
	if s == "" {
		return filter.Drop(), nil
	}
	return filter.Emit(s), nil
}

// GsubConfig configures the gsub transform.
type GsubConfig struct {
	Pattern string `json:"pattern"`
	// Replace may use $1 or \1 to refer to capture groups.
	Replace string `json:"replace"`
}

// Gsub replaces every match of a pattern.
type Gsub struct {
	re      *regexp.Regexp
	replace string
}

// NewGsubFromConfig creates a gsub transform.
func NewGsubFromConfig(config GsubConfig) (*Gsub, error) {
	if config.Pattern == "" {
		return nil, errors.New("'pattern' is required")
	}
	re, err := regexp.Compile(config.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid gsub pattern %q: %w", config.Pattern, err)
	}
	return &Gsub{
		re:      re,
		replace: backrefPattern.ReplaceAllString(config.Replace, `$${$1}`),
	}, nil
}

// ParseGsubConfig parses a raw configuration map into GsubConfig.
func ParseGsubConfig(config map[string]interface{}) (GsubConfig, error) {
	var cfg GsubConfig
	cfg.Pattern, _ = config["pattern"].(string)
	cfg.Replace, _ = config["replace"].(string)
	if cfg.Pattern == "" {
		return cfg, errors.New("'pattern' is required")
	}
	return cfg, nil
}

// ProcessValue implements filter.ValueFilter.
func (g *Gsub) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	return filter.Emit(g.re.ReplaceAllString(s, g.replace)), nil
}

var (
	_ filter.ValueFilter = (*Remove)(nil)
	_ filter.ValueFilter = (*Gsub)(nil)
)
