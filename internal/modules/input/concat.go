package input

import (
	"errors"
	"log/slog"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// Concat reads its sources one after the other. A source that answers
// Absent is dropped for good and never queried again; once every source is
// gone Concat answers Absent on every call.
//
// Records and Skips are returned exactly as the current source produced them.
type Concat struct {
	sources   []Source
	remaining []Source
}

// NewConcat creates a concatenation of sources, read in the given order.
func NewConcat(sources ...Source) (*Concat, error) {
	for _, s := range sources {
		if s == nil {
			return nil, filter.ErrNilModule
		}
	}
	return &Concat{
		sources:   sources,
		remaining: append([]Source(nil), sources...),
	}, nil
}

// Process returns the next record of the first source that still has one.
func (c *Concat) Process(_ record.Record) (filter.Result, error) {
	for len(c.remaining) > 0 {
		res, err := c.remaining[0].Process(nil)
		if err != nil {
			return res, err
		}
		if !res.IsAbsent() {
			return res, nil
		}
		c.remaining[0] = nil
		c.remaining = c.remaining[1:]
		logger.Debug("source exhausted", slog.Int("remaining", len(c.remaining)))
	}
	return filter.Absent(), nil
}

// Remaining returns the number of sources not yet exhausted.
func (c *Concat) Remaining() int { return len(c.remaining) }

// Close closes every source the concatenation was built with, exhausted or not.
func (c *Concat) Close() error {
	c.remaining = nil
	var errs []error
	for _, s := range c.sources {
		errs = append(errs, filter.CloseModule(s))
	}
	return errors.Join(errs...)
}

// Abort aborts every source that supports it and closes the others.
func (c *Concat) Abort() error {
	c.remaining = nil
	var errs []error
	for _, s := range c.sources {
		if _, ok := s.(filter.Aborter); ok {
			errs = append(errs, filter.AbortModule(s))
			continue
		}
		errs = append(errs, filter.CloseModule(s))
	}
	return errors.Join(errs...)
}

var (
	_ Source         = (*Concat)(nil)
	_ filter.Aborter = (*Concat)(nil)
)
