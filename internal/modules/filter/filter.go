// Package filter provides the record transforms of a pipeline and the
// composition primitives that assemble them: Chain, the column adapter and
// the Builder.
//
// Every stage speaks the same pull interface. A stage receives a record (or
// nil when it is the head of the pipeline and must produce one) and answers
// with a Result: Continue carries the record onwards, Skip vetoes it, and
// Absent signals that the stream is exhausted.
package filter

import (
	"errors"
	"io"

	"github.com/canectors/normalizer/pkg/record"
)

// Sentinel configuration errors raised while assembling a pipeline.
var (
	// ErrNilModule is returned when a nil record transform is added to a chain.
	ErrNilModule = errors.New("record transform is nil")
	// ErrNilValueFilter is returned when a column adapter is built without a value transform.
	ErrNilValueFilter = errors.New("value transform is nil")
)

// Status is the outcome of one Process call.
type Status int

const (
	// StatusContinue passes the record to the next stage.
	StatusContinue Status = iota
	// StatusSkip drops the record; the runner moves on to the next one.
	StatusSkip
	// StatusAbsent means the stream is exhausted.
	StatusAbsent
)

// String returns the status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusSkip:
		return "skip"
	case StatusAbsent:
		return "absent"
	default:
		return "continue"
	}
}

// Result is what a stage returns for one record.
type Result struct {
	Record record.Record
	Status Status
	// Reason explains a skip; it is logged by the runner.
	Reason string
}

// Continue returns a result that carries rec onwards.
func Continue(rec record.Record) Result {
	return Result{Record: rec, Status: StatusContinue}
}

// Skip returns a result that vetoes the current record.
func Skip(reason string) Result {
	return Result{Status: StatusSkip, Reason: reason}
}

// Absent returns the end-of-stream result.
func Absent() Result {
	return Result{Status: StatusAbsent}
}

// IsContinue reports whether the record flows on.
func (r Result) IsContinue() bool { return r.Status == StatusContinue }

// IsSkip reports whether the record was vetoed.
func (r Result) IsSkip() bool { return r.Status == StatusSkip }

// IsAbsent reports whether the stream is exhausted.
func (r Result) IsAbsent() bool { return r.Status == StatusAbsent }

// Module represents a record transform.
type Module interface {
	// Process transforms one record. Sources are called with a nil record
	// and produce the next one.
	Process(rec record.Record) (Result, error)
}

// Aborter is implemented by stages holding resources that must be released
// when a run aborts. Abort must not persist anything Close would persist.
type Aborter interface {
	Abort() error
}

// closeAll closes every member implementing io.Closer, in order, and joins
// the errors.
func closeAll[T any](members []T) error {
	var errs []error
	for _, m := range members {
		if c, ok := any(m).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// abortAll aborts every member implementing Aborter, in order.
func abortAll[T any](members []T) error {
	var errs []error
	for _, m := range members {
		if a, ok := any(m).(Aborter); ok {
			if err := a.Abort(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// CloseModule closes m if it implements io.Closer.
func CloseModule(m any) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// AbortModule aborts m if it implements Aborter.
func AbortModule(m any) error {
	if a, ok := m.(Aborter); ok {
		return a.Abort()
	}
	return nil
}
