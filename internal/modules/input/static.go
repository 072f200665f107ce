package input

import (
	"fmt"
	"log/slog"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// StaticSource yields a fixed list of records. It backs the "static" source
// type, handy for fixtures and small lookup tables kept in the pipeline file.
type StaticSource struct {
	records []record.Record
	next    int
	closed  bool
}

// NewStatic creates a source over records. Each record is cloned on output.
func NewStatic(records ...record.Record) *StaticSource {
	return &StaticSource{records: records}
}

// NewStaticFromConfig builds a static source from {"rows": [{"col": "v"}, ...]}.
func NewStaticFromConfig(cfg map[string]interface{}) (*StaticSource, error) {
	raw, ok := cfg["rows"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("'rows' must be a list of objects")
	}
	records := make([]record.Record, 0, len(raw))
	for i, item := range raw {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("rows[%d] must be an object, got %T", i, item)
		}
		fields := make(map[record.Column]string, len(row))
		for k, v := range row {
			fields[record.Column(k)] = record.Text(v)
		}
		records = append(records, record.New(fields))
	}

	logger.Debug("static source created", slog.Int("rows", len(records)))
	return NewStatic(records...), nil
}

// Process returns the next record, then Absent forever.
func (s *StaticSource) Process(_ record.Record) (filter.Result, error) {
	if s.closed || s.next >= len(s.records) {
		return filter.Absent(), nil
	}
	rec := s.records[s.next].Clone()
	s.next++
	if len(rec) == 0 {
		return filter.Skip(fmt.Sprintf("empty row %d", s.next)), nil
	}
	return filter.Continue(rec), nil
}

// Close marks the source exhausted.
func (s *StaticSource) Close() error {
	s.closed = true
	return nil
}

var _ Source = (*StaticSource)(nil)
