// Package runtime provides the pipeline run engine.
// It drives a fully assembled pipeline (sources, steps and sink composed into
// one filter.Module) until the stream is exhausted, then finalizes it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/names"
	"github.com/canectors/normalizer/pkg/connector"
)

// Run status values
const (
	StatusSuccess = connector.StatusSuccess
	StatusError   = connector.StatusError
	StatusPartial = connector.StatusPartial
)

// Common errors
var (
	// ErrNilPipeline is returned when the runner is given no pipeline
	ErrNilPipeline = errors.New("pipeline module is nil")

	// ErrAlreadyRun is returned when Run is called twice on the same runner
	ErrAlreadyRun = errors.New("runner has already run")
)

// State is the position of a run in its lifecycle.
type State int

// A run starts FETCHING, moves to DELIVERED each time a record reaches the
// sink and back to FETCHING for the next pull, and ends DRAINED once the
// source is exhausted and every stage has been closed. A fatal error ends it
// ABORTED.
const (
	StateFetching State = iota
	StateDelivered
	StateDrained
	StateAborted
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateDelivered:
		return "delivered"
	case StateDrained:
		return "drained"
	case StateAborted:
		return "aborted"
	default:
		return "fetching"
	}
}

// Runner pulls records through a pipeline one at a time.
//
// The pipeline is called with a nil record and answers with the next
// delivered record, a skip, or Absent at end of stream. On Absent the
// pipeline is closed exactly once; on a fatal error it is aborted and never
// closed, so sinks and dictionaries keep their previous content.
type Runner struct {
	pipeline   filter.Module
	name       string
	pipelineID string
	dryRun     bool
	names      *names.Set
	onRecord   func(index int, res filter.Result)

	state State
	ran   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithName sets the pipeline name used in logs.
func WithName(name string) Option {
	return func(r *Runner) { r.name = name }
}

// WithPipelineID sets the pipeline ID reported in the run result.
func WithPipelineID(id string) Option {
	return func(r *Runner) { r.pipelineID = id }
}

// WithDryRun marks the run as a dry run in logs and in the result.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) { r.dryRun = dryRun }
}

// WithNames gives the runner the dictionaries used by the pipeline. They are
// finalized with the pipeline and their new entries are counted.
func WithNames(set *names.Set) Option {
	return func(r *Runner) { r.names = set }
}

// WithRecordHook registers fn to observe every non-absent result, in order.
func WithRecordHook(fn func(index int, res filter.Result)) Option {
	return func(r *Runner) { r.onRecord = fn }
}

// NewRunner creates a runner over pipeline.
func NewRunner(pipeline filter.Module, opts ...Option) *Runner {
	r := &Runner{pipeline: pipeline}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return r.state }

// Run drives the pipeline to completion. The context is checked between
// records; a canceled run is aborted like any other fatal error.
//
// The returned result is never nil. A FinalizeError (status "partial") means
// every record was delivered but closing a stage failed.
func (r *Runner) Run(ctx context.Context) (*connector.RunResult, error) {
	startedAt := time.Now()
	result := &connector.RunResult{
		RunID:      uuid.NewString(),
		PipelineID: r.pipelineID,
		Status:     StatusError,
		DryRun:     r.dryRun,
		StartedAt:  startedAt,
	}
	runCtx := logger.RunContext{RunID: result.RunID, PipelineName: r.name, DryRun: r.dryRun}

	if r.ran {
		result.CompletedAt = time.Now()
		result.Error = buildRunError(ErrAlreadyRun, 0)
		return result, ErrAlreadyRun
	}
	r.ran = true
	if r.pipeline == nil {
		logger.Error("run failed: nil pipeline")
		result.CompletedAt = time.Now()
		result.Error = buildRunError(ErrNilPipeline, 0)
		return result, ErrNilPipeline
	}

	logger.LogRunStart(runCtx)

	for {
		if err := ctx.Err(); err != nil {
			return r.abort(runCtx, result, 0, fmt.Errorf("run interrupted after %d records: %w", result.Fetched, err))
		}

		r.state = StateFetching
		res, err := r.pipeline.Process(nil)
		if err != nil {
			return r.abort(runCtx, result, result.Fetched+1, err)
		}
		if res.IsAbsent() {
			break
		}

		result.Fetched++
		if r.onRecord != nil {
			r.onRecord(result.Fetched, res)
		}
		if res.IsSkip() {
			result.Skipped++
			logger.LogSkip(runCtx, result.Fetched, res.Reason)
			continue
		}
		result.Delivered++
		r.state = StateDelivered
	}

	return r.finalize(runCtx, result)
}

// finalize closes the pipeline and the dictionaries once the stream is
// exhausted. A close failure is reported but the run stays DRAINED.
func (r *Runner) finalize(runCtx logger.RunContext, result *connector.RunResult) (*connector.RunResult, error) {
	var errs []error
	if err := filter.CloseModule(r.pipeline); err != nil {
		errs = append(errs, err)
	}
	if r.names != nil {
		if err := r.names.Close(); err != nil {
			errs = append(errs, err)
		}
		result.NamesAdded = r.names.AddedCount()
	}
	r.state = StateDrained
	result.CompletedAt = time.Now()
	duration := result.Duration()

	var finErr *errhandling.FinalizeError
	if err := errors.Join(errs...); err != nil {
		finErr = &errhandling.FinalizeError{Err: err}
		result.Status = StatusPartial
		result.Error = buildRunError(finErr, 0)
		logger.LogError("run finalization failed", logger.ErrorContext{
			RunID:         runCtx.RunID,
			PipelineName:  r.name,
			Stage:         "finalize",
			ErrorCategory: string(errhandling.CategoryFinalize),
			Err:           err,
		})
	} else {
		result.Status = StatusSuccess
	}

	var perSecond float64
	if result.Delivered > 0 && duration > 0 {
		perSecond = float64(result.Delivered) / duration.Seconds()
	}
	logger.LogRunEnd(runCtx, result.Status, result.Delivered, duration)
	logger.LogMetrics(runCtx, logger.RunMetrics{
		Fetched:          result.Fetched,
		Delivered:        result.Delivered,
		Skipped:          result.Skipped,
		Duration:         duration,
		RecordsPerSecond: perSecond,
		NamesAdded:       result.NamesAdded,
	})
	if finErr != nil {
		return result, finErr
	}
	return result, nil
}

// abort releases every stage without finalizing it and reports err.
func (r *Runner) abort(runCtx logger.RunContext, result *connector.RunResult, index int, err error) (*connector.RunResult, error) {
	r.state = StateAborted
	if abortErr := filter.AbortModule(r.pipeline); abortErr != nil {
		logger.Warn("failed to abort pipeline",
			slog.String("run_id", runCtx.RunID),
			slog.String("error", abortErr.Error()))
	}
	if r.names != nil {
		_ = r.names.Abort()
	}

	result.CompletedAt = time.Now()
	result.Status = StatusError
	result.Error = buildRunError(err, index)

	errCtx := logger.ErrorContext{
		RunID:         runCtx.RunID,
		PipelineName:  r.name,
		Stage:         "run",
		ErrorCategory: result.Error.Category,
		Err:           err,
		RecordIndex:   index,
	}
	var parseErr *errhandling.ParseError
	if errors.As(err, &parseErr) {
		errCtx.Key = parseErr.Key
		errCtx.Column = parseErr.Column
	}
	logger.LogError("run aborted", errCtx)
	logger.LogRunEnd(runCtx, result.Status, result.Delivered, result.Duration())

	if index > 0 {
		return result, fmt.Errorf("record %d: %w", index, err)
	}
	return result, err
}

func buildRunError(err error, index int) *connector.RunError {
	classified := errhandling.ClassifyError(err)
	return &connector.RunError{
		Category:    string(classified.Category),
		Message:     err.Error(),
		RecordIndex: index,
		Fatal:       classified.Fatal,
	}
}
