// Package output provides the sinks of a pipeline.
//
// A sink is the last stage of the pipeline Chain: its Process persists the
// record it receives and returns it unchanged, so the runner can count what
// was delivered. Sinks that buffer or stage their output commit it in Close
// and throw it away in Abort.
package output

import (
	"errors"

	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// Sink is the interface every output module satisfies.
type Sink = filter.Module

// ErrClosed is returned when a record reaches a sink after Close or Abort.
var ErrClosed = errors.New("sink is closed")

// exportCell converts a cell for structured encoders: scalars stay scalars,
// sequences become slices and unset cells become nil.
func exportCell(c record.Cell) any {
	switch c.Kind() {
	case record.KindSequence:
		return c.Values()
	case record.KindScalar:
		return c.Value()
	}
	return nil
}

// exportRecord converts a record for structured encoders, dropping unset cells.
func exportRecord(rec record.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for col, c := range rec {
		if !c.IsUnset() {
			out[string(col)] = exportCell(c)
		}
	}
	return out
}

// headerColumns returns the configured columns, or the record's own columns
// in sorted order when none are configured.
func headerColumns(configured []string, rec record.Record) []record.Column {
	if len(configured) == 0 {
		return rec.Columns()
	}
	cols := make([]record.Column, len(configured))
	for i, c := range configured {
		cols[i] = record.Column(c)
	}
	return cols
}
