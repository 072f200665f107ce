package filter

import (
	"github.com/canectors/normalizer/pkg/record"
)

// Builder assembles a Chain fluently. The first error encountered is kept
// and returned by Result; later calls are no-ops.
//
//	chain, err := filter.NewBuilder(filter.WithKeyColumn("name")).
//		Filter(veto).
//		AllColumns(basic).
//		Column("fields", split, paren, names).
//		Result()
type Builder struct {
	chain *Chain
	opts  []ColumnOption
	err   error
}

// NewBuilder creates an empty builder. Column options apply to every column
// adapter the builder creates.
func NewBuilder(opts ...ColumnOption) *Builder {
	return &Builder{chain: &Chain{}, opts: opts}
}

// Filter appends a record transform.
func (b *Builder) Filter(m Module) *Builder {
	if b.err != nil {
		return b
	}
	b.err = b.chain.Append(m)
	return b
}

// AllColumns appends one column adapter per value transform, each applied
// to every column present at call time.
func (b *Builder) AllColumns(vfs ...ValueFilter) *Builder {
	return b.Columns(nil, vfs...)
}

// Column appends one column adapter per value transform, applied to col.
func (b *Builder) Column(col record.Column, vfs ...ValueFilter) *Builder {
	return b.Columns([]record.Column{col}, vfs...)
}

// Columns appends one column adapter per value transform, applied to cols.
func (b *Builder) Columns(cols []record.Column, vfs ...ValueFilter) *Builder {
	for _, vf := range vfs {
		if b.err != nil {
			return b
		}
		m, err := NewColumnModule(vf, cols, b.opts...)
		if err != nil {
			b.err = err
			return b
		}
		b.err = b.chain.Append(m)
	}
	return b
}

// Result returns the assembled chain, or the first error.
func (b *Builder) Result() (*Chain, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.chain, nil
}
