package value

import (
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/names"
)

// Names resolves each value through the dictionary of its column. Columns
// without a dictionary pass through unchanged.
type Names struct {
	set *names.Set
}

// NewNames creates a canonical-name transform over set.
func NewNames(set *names.Set) *Names {
	return &Names{set: set}
}

// ProcessValue implements filter.ValueFilter.
func (n *Names) ProcessValue(v any, vc filter.ValueContext) (filter.Output, error) {
	s, ok := asString(v)
	if !ok {
		return passThrough(v), nil
	}
	dict := n.set.For(vc.Column())
	if dict == nil {
		return filter.Emit(s), nil
	}
	return filter.Output{Cell: dict.Resolve(s)}, nil
}

// Close saves the dictionaries. Saving is idempotent per dictionary.
func (n *Names) Close() error {
	if n.set == nil {
		return nil
	}
	return n.set.Close()
}

// Abort leaves the dictionary files untouched.
func (n *Names) Abort() error {
	if n.set == nil {
		return nil
	}
	return n.set.Abort()
}

var (
	_ filter.ValueFilter = (*Names)(nil)
	_ filter.Aborter     = (*Names)(nil)
)
