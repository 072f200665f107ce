// Package record defines the unit of data that flows through a pipeline:
// a mapping from column identifiers to cells, where a cell holds a single
// value, an ordered sequence of values, or nothing.
package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Column identifies a field of a record. The set of valid columns is fixed
// per pipeline by configuration.
type Column string

// Kind is the variant held by a Cell.
type Kind int

const (
	// KindUnset means the column carries no value.
	KindUnset Kind = iota
	// KindScalar means the column carries exactly one value.
	KindScalar
	// KindSequence means the column carries an ordered list of values.
	KindSequence
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	default:
		return "unset"
	}
}

// Cell is the value of one column: unset, a scalar or a sequence.
// Sequences never hold nil entries. The zero Cell is unset.
type Cell struct {
	kind   Kind
	scalar any
	seq    []any
}

// Unset is the empty cell.
var Unset = Cell{}

// Scalar returns a cell holding v. A nil v yields an unset cell.
func Scalar(v any) Cell {
	if v == nil {
		return Cell{}
	}
	return Cell{kind: KindScalar, scalar: v}
}

// Sequence returns a sequence cell holding vs in order, with nil entries
// removed. An empty result is still a sequence.
func Sequence(vs ...any) Cell {
	seq := make([]any, 0, len(vs))
	for _, v := range vs {
		if v != nil {
			seq = append(seq, v)
		}
	}
	return Cell{kind: KindSequence, seq: seq}
}

// Strings returns a sequence cell of the given strings.
func Strings(vs ...string) Cell {
	seq := make([]any, len(vs))
	for i, v := range vs {
		seq[i] = v
	}
	return Cell{kind: KindSequence, seq: seq}
}

// Kind returns the variant of the cell.
func (c Cell) Kind() Kind { return c.kind }

// IsUnset reports whether the cell carries no value.
func (c Cell) IsUnset() bool { return c.kind == KindUnset }

// IsSequence reports whether the cell is a sequence.
func (c Cell) IsSequence() bool { return c.kind == KindSequence }

// Value returns the scalar value, or nil for unset and sequence cells.
func (c Cell) Value() any {
	if c.kind != KindScalar {
		return nil
	}
	return c.scalar
}

// Values returns a copy of the values held by the cell: the sequence
// elements, a single-element slice for a scalar, or nil when unset.
func (c Cell) Values() []any {
	switch c.kind {
	case KindScalar:
		return []any{c.scalar}
	case KindSequence:
		out := make([]any, len(c.seq))
		copy(out, c.seq)
		return out
	default:
		return nil
	}
}

// Len returns the number of values held.
func (c Cell) Len() int {
	switch c.kind {
	case KindScalar:
		return 1
	case KindSequence:
		return len(c.seq)
	default:
		return 0
	}
}

// String renders the cell as text. Sequence elements are joined by a newline.
func (c Cell) String() string {
	return c.Join("\n")
}

// Join renders the cell as text, joining sequence elements with sep.
func (c Cell) Join(sep string) string {
	switch c.kind {
	case KindScalar:
		return Text(c.scalar)
	case KindSequence:
		parts := make([]string, len(c.seq))
		for i, v := range c.seq {
			parts[i] = Text(v)
		}
		return strings.Join(parts, sep)
	default:
		return ""
	}
}

// Equal reports whether two cells hold the same variant and values.
func (c Cell) Equal(o Cell) bool {
	if c.kind != o.kind {
		return false
	}
	switch c.kind {
	case KindScalar:
		return c.scalar == o.scalar
	case KindSequence:
		if len(c.seq) != len(o.seq) {
			return false
		}
		for i := range c.seq {
			if c.seq[i] != o.seq[i] {
				return false
			}
		}
	}
	return true
}

// Range is a numeric interval parsed from free text. Bounds are kept as text
// so that approximate bounds can carry a trailing "?". An empty bound is unset.
type Range struct {
	Min string `json:"min,omitempty" msgpack:"min,omitempty"`
	Max string `json:"max,omitempty" msgpack:"max,omitempty"`
}

// IsEmpty reports whether both bounds are unset.
func (r Range) IsEmpty() bool { return r.Min == "" && r.Max == "" }

// String renders the range as "min~max", or a single bound when only one is set.
func (r Range) String() string {
	switch {
	case r.IsEmpty():
		return ""
	case r.Min == "":
		return r.Max
	case r.Max == "":
		return r.Min + "~"
	case r.Min == r.Max:
		return r.Max
	default:
		return r.Min + "~" + r.Max
	}
}

// Text renders a scalar value as text.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case Range:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Record maps columns to cells. Absent columns are unset.
type Record map[Column]Cell

// New returns a record built from text fields; empty strings stay unset.
func New(fields map[Column]string) Record {
	r := make(Record, len(fields))
	for col, v := range fields {
		if v != "" {
			r[col] = Scalar(v)
		}
	}
	return r
}

// Get returns the cell for col, or Unset.
func (r Record) Get(col Column) Cell {
	if r == nil {
		return Unset
	}
	return r[col]
}

// Has reports whether col carries a value.
func (r Record) Has(col Column) bool {
	return !r.Get(col).IsUnset()
}

// Set assigns c to col. Assigning an unset cell removes the column.
func (r Record) Set(col Column, c Cell) {
	if c.IsUnset() {
		delete(r, col)
		return
	}
	r[col] = c
}

// Delete removes col from the record.
func (r Record) Delete(col Column) {
	delete(r, col)
}

// Text returns the textual rendering of col.
func (r Record) Text(col Column) string {
	return r.Get(col).String()
}

// Columns returns the columns carrying a value, sorted.
func (r Record) Columns() []Column {
	cols := make([]Column, 0, len(r))
	for col, c := range r {
		if !c.IsUnset() {
			cols = append(cols, col)
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return cols
}

// Clone returns a copy of the record. Sequence storage is not shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for col, c := range r {
		if c.kind == KindSequence {
			c.seq = append([]any(nil), c.seq...)
		}
		out[col] = c
	}
	return out
}
