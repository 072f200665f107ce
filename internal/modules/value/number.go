package value

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// Policies for approximate values that still cannot be classified.
const (
	OnApproximateUnknown = "unknown"
	OnApproximateFail    = "fail"
)

// ApproximateTag marks a bound derived from an approximate value.
const ApproximateTag = "?"

// defaultQualifiers are stripped from numeric text, in order. Any removal
// marks the value approximate.
var defaultQualifiers = []string{
	regexp.QuoteMeta("↓"),
	regexp.QuoteMeta("前後"),
	regexp.QuoteMeta("約"),
	regexp.QuoteMeta("推定"),
	`\?`,
	`くらい`,
	`^~`,
	regexp.QuoteMeta("以下"),
	regexp.QuoteMeta("以上"),
	regexp.QuoteMeta("程度"),
	regexp.QuoteMeta("保護+HS="),
	regexp.QuoteMeta("高い"),
	regexp.QuoteMeta("不明"),
}

var (
	rangeMarkers = regexp.MustCompile(`[-/]`)
	rangeValue   = regexp.MustCompile(`^(\d+(?:\.\d+)?)?~(\d+(?:\.\d+)?)?$`)
	singleValue  = regexp.MustCompile(`^(\d+(?:\.\d+)?)$`)
	separators   = strings.NewReplacer("、", "", ",", "")
)

// NumberConfig configures numeric range parsing.
type NumberConfig struct {
	// Qualifiers are extra literal words treated as approximate markers.
	Qualifiers []string `json:"qualifiers,omitempty"`
	// QualifierPatterns are extra regular expressions treated as approximate markers.
	QualifierPatterns []string `json:"qualifierPatterns,omitempty"`
	// OnApproximateFailure is "unknown" (default) or "fail".
	OnApproximateFailure string `json:"onApproximateFailure,omitempty"`
}

// Number parses free text such as "120", "50~80" or "約80" into a
// record.Range. Ranges may be written with "~", "-" or "/".
type Number struct {
	qualifiers  []*regexp.Regexp
	failOnAbout bool
}

// NewNumberFromConfig creates a numeric range transform.
func NewNumberFromConfig(config NumberConfig) (*Number, error) {
	patterns := append([]string(nil), defaultQualifiers...)
	for _, q := range config.Qualifiers {
		patterns = append(patterns, regexp.QuoteMeta(q))
	}
	patterns = append(patterns, config.QualifierPatterns...)
	qualifiers, err := compileAll("qualifier", patterns)
	if err != nil {
		return nil, err
	}

	n := &Number{qualifiers: qualifiers}
	switch config.OnApproximateFailure {
	case "", OnApproximateUnknown:
	case OnApproximateFail:
		n.failOnAbout = true
	default:
		return nil, fmt.Errorf("invalid onApproximateFailure %q (want %q or %q)",
			config.OnApproximateFailure, OnApproximateUnknown, OnApproximateFail)
	}
	return n, nil
}

// ParseNumberConfig parses a raw configuration map into NumberConfig.
func ParseNumberConfig(config map[string]interface{}) (NumberConfig, error) {
	var cfg NumberConfig
	cfg.Qualifiers = stringList(config["qualifiers"])
	cfg.QualifierPatterns = stringList(config["qualifierPatterns"])
	if v, ok := config["onApproximateFailure"].(string); ok {
		cfg.OnApproximateFailure = v
	}
	return cfg, nil
}

// Parse classifies s.
func (n *Number) Parse(s string) (record.Range, error) {
	text := rangeMarkers.ReplaceAllString(s, "~")
	text = separators.Replace(text)

	stripped := text
	for _, q := range n.qualifiers {
		stripped = q.ReplaceAllString(stripped, "")
	}
	about := stripped != text

	var r record.Range
	switch {
	case stripped == "" || stripped == "~":
	case rangeValue.MatchString(stripped):
		m := rangeValue.FindStringSubmatch(stripped)
		r.Min, r.Max = m[1], m[2]
	case singleValue.MatchString(stripped):
		r.Max = stripped
	default:
		if !about || n.failOnAbout {
			return record.Range{}, errhandling.NewParseError(s, "not a number or range")
		}
	}

	if r.Min != "" && r.Max == "" {
		r.Max = r.Min
	}
	if about {
		if r.Min != "" {
			r.Min += ApproximateTag
		}
		if r.Max != "" {
			r.Max += ApproximateTag
		}
	}
	return r, nil
}

// ProcessValue implements filter.ValueFilter.
func (n *Number) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	r, err := n.Parse(s)
	if err != nil {
		return filter.Output{}, err
	}
	return filter.Emit(r), nil
}

// asRange returns v as a parsed range or a parse error.
func asRange(v any) (record.Range, error) {
	r, ok := v.(record.Range)
	if !ok {
		return record.Range{}, errhandling.NewParseError(record.Text(v), "expected a parsed range; run the number transform first")
	}
	return r, nil
}

// MaxConfig configures the max transform.
type MaxConfig struct {
	Unknown string `json:"unknown,omitempty"`
}

// Max reduces a parsed range to its upper bound, or the unknown sentinel.
type Max struct {
	unknown string
}

// NewMaxFromConfig creates a max transform.
func NewMaxFromConfig(config MaxConfig) *Max {
	return &Max{unknown: unknownOr(config.Unknown)}
}

// ProcessValue implements filter.ValueFilter.
func (m *Max) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	r, err := asRange(v)
	if err != nil {
		return filter.Output{}, err
	}
	if r.Max == "" {
		return filter.Emit(m.unknown), nil
	}
	return filter.Emit(r.Max), nil
}

// MinMaxConfig configures the min/max transform.
type MinMaxConfig struct {
	MinColumn string `json:"minColumn"`
	MaxColumn string `json:"maxColumn"`
	Unknown   string `json:"unknown,omitempty"`
}

// MinMax writes the bounds of a parsed range to two sibling columns and
// keeps the upper bound as the column's own value.
type MinMax struct {
	minColumn record.Column
	maxColumn record.Column
	unknown   string
}

// NewMinMaxFromConfig creates a min/max transform.
func NewMinMaxFromConfig(config MinMaxConfig) (*MinMax, error) {
	if config.MinColumn == "" || config.MaxColumn == "" {
		return nil, errors.New("'minColumn' and 'maxColumn' are required")
	}
	return &MinMax{
		minColumn: record.Column(config.MinColumn),
		maxColumn: record.Column(config.MaxColumn),
		unknown:   unknownOr(config.Unknown),
	}, nil
}

// ParseMinMaxConfig parses a raw configuration map into MinMaxConfig.
func ParseMinMaxConfig(config map[string]interface{}) (MinMaxConfig, error) {
	var cfg MinMaxConfig
	cfg.MinColumn, _ = config["minColumn"].(string)
	cfg.MaxColumn, _ = config["maxColumn"].(string)
	cfg.Unknown, _ = config["unknown"].(string)
	if cfg.MinColumn == "" || cfg.MaxColumn == "" {
		return cfg, errors.New("'minColumn' and 'maxColumn' are required")
	}
	return cfg, nil
}

// ProcessValue implements filter.ValueFilter.
func (m *MinMax) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	r, err := asRange(v)
	if err != nil {
		return filter.Output{}, err
	}
	lo, hi := r.Min, r.Max
	if lo == "" {
		lo = m.unknown
	}
	if hi == "" {
		hi = m.unknown
	}
	return filter.Emit(hi).
		With(m.minColumn, record.Scalar(lo)).
		With(m.maxColumn, record.Scalar(hi)), nil
}

var (
	_ filter.ValueFilter = (*Number)(nil)
	_ filter.ValueFilter = (*Max)(nil)
	_ filter.ValueFilter = (*MinMax)(nil)
)
