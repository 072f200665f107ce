package filter

import (
	"github.com/canectors/normalizer/pkg/record"
)

// BackupSuffix is appended to a column name to form its backup column.
const BackupSuffix = "_before"

// BackupModule copies columns to "<column>_before" so that raw and
// normalized values can be reviewed side by side in the output.
type BackupModule struct {
	columns []record.Column
}

// NewBackup creates a backup module. An empty column list copies every
// column present on the record.
func NewBackup(columns []record.Column) *BackupModule {
	return &BackupModule{columns: append([]record.Column(nil), columns...)}
}

// BackupColumn returns the backup column for col.
func BackupColumn(col record.Column) record.Column {
	return col + BackupSuffix
}

// Process implements Module.
func (m *BackupModule) Process(rec record.Record) (Result, error) {
	if rec == nil {
		return Continue(rec), nil
	}
	out := rec.Clone()
	cols := m.columns
	if len(cols) == 0 {
		cols = rec.Columns()
	}
	for _, col := range cols {
		out.Set(BackupColumn(col), rec.Get(col))
	}
	return Continue(out), nil
}

var _ Module = (*BackupModule)(nil)
