// Package input provides the sources of a pipeline.
//
// A source is a filter.Module that ignores its input record: each call to
// Process(nil) yields the next record, a Skip for a row that carries no data,
// or Absent once the source is exhausted. Absent is permanent.
package input

import (
	"errors"

	"github.com/canectors/normalizer/internal/modules/filter"
)

// Source is the interface every input module satisfies.
type Source = filter.Module

// Error types shared by sources.
var (
	// ErrNoSources is returned when a concatenation is built from nothing.
	ErrNoSources = errors.New("at least one source is required")
	// ErrMissingPath is returned when a file source has no path.
	ErrMissingPath = errors.New("'path' is required")
)
