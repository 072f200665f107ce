package value

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/canectors/normalizer/internal/modules/filter"
)

// Delimiter patterns for the split transform.
const (
	// DefaultSplitPattern splits on Japanese and ASCII list punctuation,
	// newlines and slashes.
	DefaultSplitPattern = `[、,，\n・/]\s*`
	// SpaceSplitPattern also splits on whitespace.
	SpaceSplitPattern = `[、,，\s・/]\s*`
)

// splitMarker stands for a delimiter run while brackets are inspected.
const splitMarker = '\x00'

// bracketPairs maps closing brackets to their opening bracket.
var bracketPairs = map[rune]rune{
	')': '(',
	'）': '（',
	']': '[',
	'」': '「',
	'』': '『',
}

// SplitConfig configures the split transform.
type SplitConfig struct {
	// Pattern is the delimiter regular expression; one match is one delimiter run.
	Pattern string `json:"pattern,omitempty"`
	// Preset selects a built-in pattern: "default" or "space".
	Preset string `json:"preset,omitempty"`
}

// Split turns a delimited list into a sequence. Delimiters inside a closed
// bracket or quote span do not split; they are rewritten to ",".
type Split struct {
	re *regexp.Regexp
}

// NewSplitFromConfig creates a split transform.
func NewSplitFromConfig(config SplitConfig) (*Split, error) {
	pattern := config.Pattern
	if pattern == "" {
		switch config.Preset {
		case "", "default":
			pattern = DefaultSplitPattern
		case "space":
			pattern = SpaceSplitPattern
		default:
			return nil, fmt.Errorf("unknown split preset %q", config.Preset)
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid split pattern %q: %w", pattern, err)
	}
	return &Split{re: re}, nil
}

// ParseSplitConfig parses a raw configuration map into SplitConfig.
func ParseSplitConfig(config map[string]interface{}) (SplitConfig, error) {
	var cfg SplitConfig
	if p, ok := config["pattern"].(string); ok {
		cfg.Pattern = p
	}
	if p, ok := config["preset"].(string); ok {
		cfg.Preset = p
	}
	return cfg, nil
}

// SplitString splits s into its non-empty, trimmed pieces.
func (t *Split) SplitString(s string) []string {
	marked := []rune(t.re.ReplaceAllString(s, string(splitMarker)))
	protectSpans(marked)

	pieces := strings.Split(string(marked), string(splitMarker))
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// protectSpans rewrites markers that fall inside a properly closed bracket
// or quote span to ",". Unclosed brackets protect nothing.
func protectSpans(rs []rune) {
	type open struct {
		r   rune
		pos int
	}
	var stack []open
	var spans [][2]int
	quote := -1

	for i, r := range rs {
		switch {
		case r == '"':
			if quote < 0 {
				quote = i
			} else {
				spans = append(spans, [2]int{quote, i})
				quote = -1
			}
		case r == '(' || r == '（' || r == '[' || r == '「' || r == '『':
			stack = append(stack, open{r: r, pos: i})
		default:
			opener, closing := bracketPairs[r]
			if !closing {
				continue
			}
			// Unwind to the matching opener; mismatched openers in between are dropped.
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j].r == opener {
					spans = append(spans, [2]int{stack[j].pos, i})
					stack = stack[:j]
					break
				}
			}
		}
	}

	for _, sp := range spans {
		for i := sp[0] + 1; i < sp[1]; i++ {
			if rs[i] == splitMarker {
				rs[i] = ','
			}
		}
	}
}

// ProcessValue implements filter.ValueFilter. The result is always a sequence.
func (t *Split) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	return filter.EmitStrings(t.SplitString(s)...), nil
}

var _ filter.ValueFilter = (*Split)(nil)
