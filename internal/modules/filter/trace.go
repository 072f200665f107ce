package filter

import (
	"log/slog"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/record"
)

// TraceModule logs selected columns of each record at debug level and passes
// the record through unchanged.
type TraceModule struct {
	label   string
	columns []record.Column
}

// NewTrace creates a trace module. An empty column list logs every column.
func NewTrace(label string, columns []record.Column) *TraceModule {
	if label == "" {
		label = "trace"
	}
	return &TraceModule{label: label, columns: append([]record.Column(nil), columns...)}
}

// Process implements Module.
func (m *TraceModule) Process(rec record.Record) (Result, error) {
	if rec == nil {
		return Continue(rec), nil
	}
	cols := m.columns
	if len(cols) == 0 {
		cols = rec.Columns()
	}
	attrs := make([]any, 0, len(cols)+1)
	attrs = append(attrs, slog.String("label", m.label))
	for _, col := range cols {
		attrs = append(attrs, slog.String(string(col), rec.Get(col).Join("|")))
	}
	logger.Debug("record", attrs...)
	return Continue(rec), nil
}

var _ Module = (*TraceModule)(nil)
