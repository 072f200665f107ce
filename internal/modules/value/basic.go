package value

import (
	"strings"

	"golang.org/x/text/width"

	"github.com/canectors/normalizer/internal/modules/filter"
)

// basicReplacer maps characters whose folded form is not what the data means.
// The full-width minus is a long vowel mark in names, not a range marker.
var basicReplacer = strings.NewReplacer(
	"－", "ー",
	"　", " ",
)

// BasicConfig configures the basic text normalization.
type BasicConfig struct {
	// NoFold disables full-width to half-width folding of ASCII forms.
	NoFold bool `json:"noFold,omitempty"`
}

// Basic normalizes text: full-width ASCII folds to half-width, half-width
// katakana to full-width, doubled "?" collapses, wave dashes become "~",
// "(?)" becomes "?" and surrounding space is trimmed.
type Basic struct {
	fold bool
}

// NewBasicFromConfig creates a basic transform.
func NewBasicFromConfig(config BasicConfig) *Basic {
	return &Basic{fold: !config.NoFold}
}

// ParseBasicConfig parses a raw configuration map into BasicConfig.
func ParseBasicConfig(config map[string]interface{}) (BasicConfig, error) {
	var cfg BasicConfig
	if v, ok := config["noFold"].(bool); ok {
		cfg.NoFold = v
	}
	return cfg, nil
}

// Normalize applies the transform to s.
func (b *Basic) Normalize(s string) string {
	s = basicReplacer.Replace(s)
	if b.fold {
		s = width.Fold.String(s)
	}
	s = strings.ReplaceAll(s, "??", "?")
	s = strings.NewReplacer("～", "~", "〜", "~").Replace(s)
	s = strings.ReplaceAll(s, "(?)", "?")
	return strings.TrimSpace(s)
}

// ProcessValue implements filter.ValueFilter.
func (b *Basic) ProcessValue(v any, _ filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	return filter.Emit(b.Normalize(s)), nil
}

var _ filter.ValueFilter = (*Basic)(nil)
