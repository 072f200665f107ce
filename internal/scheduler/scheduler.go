// Package scheduler provides CRON-based scheduling for pipeline runs.
// It re-runs pipelines on a recurring schedule, never overlapping two runs of
// the same pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/connector"
)

// Scheduler errors
var (
	ErrNilPipeline       = errors.New("pipeline is nil")
	ErrPipelineDisabled  = errors.New("pipeline is disabled")
	ErrEmptySchedule     = errors.New("pipeline has no schedule")
	ErrInvalidSchedule   = errors.New("invalid CRON expression")
	ErrAlreadyStarted    = errors.New("scheduler already started")
	ErrNotStarted        = errors.New("scheduler not started")
	ErrPipelineNotFound  = errors.New("pipeline not registered")
	ErrMissingPipelineID = errors.New("pipeline ID is required")
)

// parser accepts standard 5-field expressions, an optional leading seconds
// field and descriptors such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Executor runs one pipeline. Each call must build a fresh run: a Runner is
// single-use.
type Executor interface {
	Execute(ctx context.Context, pipeline *connector.Pipeline) (*connector.RunResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, pipeline *connector.Pipeline) (*connector.RunResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, pipeline *connector.Pipeline) (*connector.RunResult, error) {
	return f(ctx, pipeline)
}

type job struct {
	pipeline *connector.Pipeline
	entryID  cron.EntryID
	running  atomic.Bool
}

// Scheduler manages scheduled pipeline runs.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	executor Executor
	jobs     map[string]*job
	ctx      context.Context
	started  bool
}

// New creates a scheduler without an executor; triggers are only logged.
func New() *Scheduler {
	return NewWithExecutor(nil)
}

// NewWithExecutor creates a scheduler that runs pipelines through executor.
func NewWithExecutor(executor Executor) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{}))),
		executor: executor,
		jobs:     make(map[string]*job),
		ctx:      context.Background(),
	}
}

// ValidateCronExpression checks expr without scheduling anything.
func ValidateCronExpression(expr string) error {
	if expr == "" {
		return ErrEmptySchedule
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// Register adds a pipeline, replacing any previous registration with the
// same ID. Pipelines may be registered while the scheduler runs.
func (s *Scheduler) Register(pipeline *connector.Pipeline) error {
	if pipeline == nil {
		return ErrNilPipeline
	}
	if pipeline.ID == "" {
		return ErrMissingPipelineID
	}
	if !pipeline.Enabled {
		return fmt.Errorf("%w: %s", ErrPipelineDisabled, pipeline.ID)
	}
	if err := ValidateCronExpression(pipeline.Schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[pipeline.ID]; ok {
		s.cron.Remove(old.entryID)
		logger.Info("pipeline schedule updated",
			slog.String("pipeline_id", pipeline.ID),
			slog.String("schedule", pipeline.Schedule))
	}

	j := &job{pipeline: pipeline}
	id, err := s.cron.AddFunc(pipeline.Schedule, func() { s.trigger(j) })
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, pipeline.Schedule, err)
	}
	j.entryID = id
	s.jobs[pipeline.ID] = j

	logger.Info("pipeline scheduled",
		slog.String("pipeline_id", pipeline.ID),
		slog.String("schedule", pipeline.Schedule))
	return nil
}

// Unregister removes a pipeline.
func (s *Scheduler) Unregister(pipelineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[pipelineID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, pipelineID)
	return nil
}

// trigger runs the pipeline unless its previous run is still going.
func (s *Scheduler) trigger(j *job) {
	id := j.pipeline.ID
	if !j.running.CompareAndSwap(false, true) {
		logger.Warn("previous run still in progress, skipping trigger", slog.String("pipeline_id", id))
		return
	}
	defer j.running.Store(false)

	if s.executor == nil {
		logger.Info("scheduled trigger", slog.String("pipeline_id", id))
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	logger.Info("scheduled run starting", slog.String("pipeline_id", id))
	result, err := s.executor.Execute(ctx, j.pipeline)
	if err != nil {
		logger.Error("scheduled run failed",
			slog.String("pipeline_id", id),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}
	attrs := []any{slog.String("pipeline_id", id), slog.Duration("duration", time.Since(start))}
	if result != nil {
		attrs = append(attrs, slog.String("status", result.Status), slog.Int("records_delivered", result.Delivered))
	}
	logger.Info("scheduled run completed", attrs...)
}

// Start begins firing triggers. ctx is the parent of every run's context.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx = ctx
	s.started = true
	s.cron.Start()
	logger.Info("scheduler started", slog.Int("pipelines", len(s.jobs)))
	return nil
}

// Stop halts triggers, waits for running pipelines until ctx is done, and
// clears the registrations.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	done := s.cron.Stop()
	for _, j := range jobs {
		s.cron.Remove(j.entryID)
	}
	if !started {
		return nil
	}

	select {
	case <-done.Done():
		logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("scheduler stop timed out with runs in progress")
		return ctx.Err()
	}
}

// IsStarted reports whether the scheduler is firing triggers.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// IsRunning reports whether a run of pipelineID is in progress.
func (s *Scheduler) IsRunning(pipelineID string) bool {
	s.mu.Lock()
	j, ok := s.jobs[pipelineID]
	s.mu.Unlock()
	return ok && j.running.Load()
}

// HasPipeline reports whether pipelineID is registered.
func (s *Scheduler) HasPipeline(pipelineID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[pipelineID]
	return ok
}

// PipelineCount returns the number of registered pipelines.
func (s *Scheduler) PipelineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// GetPipelineIDs returns the registered pipeline IDs, sorted.
func (s *Scheduler) GetPipelineIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetNextRun returns the next trigger time of pipelineID.
func (s *Scheduler) GetNextRun(pipelineID string) (time.Time, error) {
	s.mu.Lock()
	started := s.started
	j, ok := s.jobs[pipelineID]
	s.mu.Unlock()

	if !started {
		return time.Time{}, ErrNotStarted
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	return s.cron.Entry(j.entryID).Next, nil
}

// cronLogger routes cron's own messages to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
