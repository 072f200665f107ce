package filter

import (
	"errors"
	"fmt"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/pkg/record"
)

// ValueContext gives a value transform read access to the record being
// processed and the column the value came from.
type ValueContext struct {
	rec    record.Record
	column record.Column
}

// NewValueContext creates a context over rec for column col.
func NewValueContext(rec record.Record, col record.Column) ValueContext {
	return ValueContext{rec: rec, column: col}
}

// Column returns the column being processed.
func (vc ValueContext) Column() record.Column { return vc.column }

// Get returns the current cell of col on the owning record.
func (vc ValueContext) Get(col record.Column) record.Cell { return vc.rec.Get(col) }

// Text returns the textual rendering of col on the owning record.
func (vc ValueContext) Text(col record.Column) string { return vc.rec.Text(col) }

// Snapshot returns a copy of the owning record.
func (vc ValueContext) Snapshot() record.Record { return vc.rec.Clone() }

// Output is what a value transform produces for one value: the primary cell
// for its own column and optional writes to sibling columns.
type Output struct {
	Cell   record.Cell
	Writes map[record.Column]record.Cell
}

// Emit returns a scalar output. A nil v drops the value.
func Emit(v any) Output {
	return Output{Cell: record.Scalar(v)}
}

// EmitAll returns a sequence output.
func EmitAll(vs ...any) Output {
	return Output{Cell: record.Sequence(vs...)}
}

// EmitStrings returns a sequence output of strings.
func EmitStrings(vs ...string) Output {
	return Output{Cell: record.Strings(vs...)}
}

// Drop returns an output that removes the value.
func Drop() Output {
	return Output{}
}

// With returns o with an additional sibling write.
func (o Output) With(col record.Column, c record.Cell) Output {
	writes := make(map[record.Column]record.Cell, len(o.Writes)+1)
	for k, v := range o.Writes {
		writes[k] = v
	}
	writes[col] = c
	o.Writes = writes
	return o
}

// ValueFilter transforms one scalar value.
type ValueFilter interface {
	ProcessValue(v any, vc ValueContext) (Output, error)
}

// ValueFunc adapts a function to ValueFilter.
type ValueFunc func(v any, vc ValueContext) (Output, error)

// ProcessValue implements ValueFilter.
func (f ValueFunc) ProcessValue(v any, vc ValueContext) (Output, error) {
	return f(v, vc)
}

// ColumnModule applies a value transform to a set of columns.
//
// Sequence cells have the transform applied to each element; sequence
// results are flattened one level and dropped values are removed. Scalar
// cells take whatever the transform returns; a dropped scalar removes the
// column. Unset cells are never passed to the transform.
type ColumnModule struct {
	vf        ValueFilter
	columns   []record.Column
	keyColumn record.Column
}

// ColumnOption configures a ColumnModule.
type ColumnOption func(*ColumnModule)

// WithKeyColumn names the column whose value identifies a record in errors.
func WithKeyColumn(col record.Column) ColumnOption {
	return func(m *ColumnModule) { m.keyColumn = col }
}

// NewColumnModule creates a column adapter. An empty column list means every
// column present on the record at call time.
func NewColumnModule(vf ValueFilter, columns []record.Column, opts ...ColumnOption) (*ColumnModule, error) {
	if vf == nil {
		return nil, errhandling.NewConfigError("column", "cannot build adapter", ErrNilValueFilter)
	}
	m := &ColumnModule{
		vf:      vf,
		columns: append([]record.Column(nil), columns...),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Columns returns the configured columns; empty means all.
func (m *ColumnModule) Columns() []record.Column {
	return append([]record.Column(nil), m.columns...)
}

// Process implements Module.
func (m *ColumnModule) Process(rec record.Record) (Result, error) {
	if rec == nil {
		return Continue(rec), nil
	}

	out := rec.Clone()
	cols := m.columns
	if len(cols) == 0 {
		cols = out.Columns()
	}

	for _, col := range cols {
		cell := out.Get(col)
		if cell.IsUnset() {
			continue
		}
		vc := ValueContext{rec: out, column: col}

		if cell.IsSequence() {
			var values []any
			var writes []map[record.Column]record.Cell
			for _, v := range cell.Values() {
				o, err := m.vf.ProcessValue(v, vc)
				if err != nil {
					return Result{}, m.annotate(err, col, rec)
				}
				values = append(values, o.Cell.Values()...)
				if len(o.Writes) > 0 {
					writes = append(writes, o.Writes)
				}
			}
			out.Set(col, record.Sequence(values...))
			for _, w := range writes {
				applyWrites(out, w)
			}
			continue
		}

		o, err := m.vf.ProcessValue(cell.Value(), vc)
		if err != nil {
			return Result{}, m.annotate(err, col, rec)
		}
		out.Set(col, o.Cell)
		applyWrites(out, o.Writes)
	}

	return Continue(out), nil
}

func applyWrites(rec record.Record, writes map[record.Column]record.Cell) {
	for col, c := range writes {
		rec.Set(col, c)
	}
}

// annotate attaches the column and the record's natural key to err.
func (m *ColumnModule) annotate(err error, col record.Column, rec record.Record) error {
	key := ""
	if m.keyColumn != "" {
		key = rec.Text(m.keyColumn)
	}
	var pe *errhandling.ParseError
	if errors.As(err, &pe) {
		if pe.Column == "" {
			pe.Column = string(col)
		}
		if pe.Key == "" {
			pe.Key = key
		}
		return err
	}
	if key != "" {
		return fmt.Errorf("column %s (record %q): %w", col, key, err)
	}
	return fmt.Errorf("column %s: %w", col, err)
}

// Close finalizes the value transform when it holds state.
func (m *ColumnModule) Close() error {
	return CloseModule(m.vf)
}

// Abort releases the value transform's resources without finalizing it.
func (m *ColumnModule) Abort() error {
	return AbortModule(m.vf)
}

var (
	_ Module  = (*ColumnModule)(nil)
	_ Aborter = (*ColumnModule)(nil)
)
