package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/record"
)

// DedupeModule skips records whose key columns repeat an earlier record.
// Only 64-bit digests are kept, so memory stays flat across large inputs.
type DedupeModule struct {
	columns []record.Column
	seen    map[uint64]struct{}
}

// NewDedupe creates a dedupe module over the given key columns.
func NewDedupe(columns []record.Column) (*DedupeModule, error) {
	if len(columns) == 0 {
		return nil, errors.New("dedupe requires at least one column")
	}
	return &DedupeModule{
		columns: append([]record.Column(nil), columns...),
		seen:    make(map[uint64]struct{}),
	}, nil
}

// Process implements Module.
func (m *DedupeModule) Process(rec record.Record) (Result, error) {
	if rec == nil {
		return Continue(rec), nil
	}
	parts := make([]string, len(m.columns))
	for i, col := range m.columns {
		parts[i] = rec.Text(col)
	}
	key := strings.Join(parts, "\x1f")
	h := xxh3.HashString(key)
	if _, dup := m.seen[h]; dup {
		logger.Debug("duplicate record", slog.String("key", key))
		return Skip(fmt.Sprintf("duplicate of %q", key)), nil
	}
	m.seen[h] = struct{}{}
	return Continue(rec), nil
}

var _ Module = (*DedupeModule)(nil)
