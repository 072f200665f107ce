package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/canectors/normalizer/pkg/connector"
)

// blockingExecutor records every call and holds each run until release is
// closed.
type blockingExecutor struct {
	mu      sync.Mutex
	calls   []string
	ctxs    []context.Context
	started chan string
	release chan struct{}
	err     error
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan string, 16), release: make(chan struct{})}
}

func (e *blockingExecutor) Execute(ctx context.Context, p *connector.Pipeline) (*connector.RunResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, p.ID)
	e.ctxs = append(e.ctxs, ctx)
	e.mu.Unlock()

	e.started <- p.ID
	<-e.release
	if e.err != nil {
		return nil, e.err
	}
	return &connector.RunResult{PipelineID: p.ID, Status: connector.StatusSuccess, Delivered: 3}, nil
}

func (e *blockingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func mobs(schedule string) *connector.Pipeline {
	return &connector.Pipeline{ID: "mobs", Name: "mobs", Schedule: schedule, Enabled: true}
}

func waitStarted(t *testing.T, e *blockingExecutor, timeout time.Duration) {
	t.Helper()
	select {
	case <-e.started:
	case <-time.After(timeout):
		t.Fatal("run did not start in time")
	}
}

func TestValidateCronExpression(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr error
	}{
		{"0 3 * * *", nil},
		{"*/15 * * * *", nil},
		{"0 0 3 * * *", nil},
		{"@daily", nil},
		{"@every 1h", nil},
		{"", ErrEmptySchedule},
		{"every night", ErrInvalidSchedule},
		{"60 * * * *", ErrInvalidSchedule},
		{"* * *", ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpression(tt.expr)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateCronExpression(%q) = %v, want nil", tt.expr, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCronExpression(%q) = %v, want %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestRegister_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		pipeline *connector.Pipeline
		wantErr  error
	}{
		{"nil", nil, ErrNilPipeline},
		{"missing id", &connector.Pipeline{Schedule: "@daily", Enabled: true}, ErrMissingPipelineID},
		{"disabled", &connector.Pipeline{ID: "mobs", Schedule: "@daily"}, ErrPipelineDisabled},
		{"no schedule", mobs(""), ErrEmptySchedule},
		{"bad schedule", mobs("0 25 * * *"), ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			if err := s.Register(tt.pipeline); !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() = %v, want %v", err, tt.wantErr)
			}
			if s.PipelineCount() != 0 {
				t.Errorf("rejected pipeline should not be registered")
			}
		})
	}
}

func TestRegister_ReplacesPrevious(t *testing.T) {
	s := New()
	if err := s.Register(mobs("0 3 * * *")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Register(mobs("@every 1h")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if s.PipelineCount() != 1 {
		t.Errorf("PipelineCount() = %d, want 1", s.PipelineCount())
	}
	if got := s.jobs["mobs"].pipeline.Schedule; got != "@every 1h" {
		t.Errorf("schedule = %q, want the latest registration", got)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}
}

func TestRegistrations(t *testing.T) {
	s := New()
	for _, id := range []string{"weapons", "mobs", "items"} {
		p := mobs("@daily")
		p.ID = id
		if err := s.Register(p); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	if got, want := s.GetPipelineIDs(), []string{"items", "mobs", "weapons"}; !slices.Equal(got, want) {
		t.Errorf("GetPipelineIDs() = %v, want %v", got, want)
	}
	if err := s.Unregister("mobs"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if s.HasPipeline("mobs") || s.PipelineCount() != 2 {
		t.Errorf("mobs should be gone, have %v", s.GetPipelineIDs())
	}
	if err := s.Unregister("mobs"); !errors.Is(err, ErrPipelineNotFound) {
		t.Errorf("second Unregister() = %v, want ErrPipelineNotFound", err)
	}
}

func TestTrigger_UsesStartContext(t *testing.T) {
	exec := newBlockingExecutor()
	close(exec.release)
	s := NewWithExecutor(exec)
	if err := s.Register(mobs("0 3 * * *")); err != nil {
		t.Fatal(err)
	}

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run")
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	s.trigger(s.jobs["mobs"])

	if exec.callCount() != 1 {
		t.Fatalf("executor called %d times, want 1", exec.callCount())
	}
	if got := exec.ctxs[0].Value(key{}); got != "run" {
		t.Errorf("run context should derive from Start's context, got %v", got)
	}
	if s.IsRunning("mobs") {
		t.Error("run should be finished")
	}
}

func TestTrigger_SkipsOverlap(t *testing.T) {
	exec := newBlockingExecutor()
	s := NewWithExecutor(exec)
	if err := s.Register(mobs("0 3 * * *")); err != nil {
		t.Fatal(err)
	}
	j := s.jobs["mobs"]

	done := make(chan struct{})
	go func() {
		s.trigger(j)
		close(done)
	}()
	waitStarted(t, exec, time.Second)

	if !s.IsRunning("mobs") {
		t.Error("IsRunning() = false during a run")
	}
	s.trigger(j) // returns at once: the first run still holds the job
	if exec.callCount() != 1 {
		t.Errorf("overlapping trigger ran the pipeline, calls = %d", exec.callCount())
	}

	close(exec.release)
	<-done
	if s.IsRunning("mobs") {
		t.Error("IsRunning() = true after the run")
	}
}

func TestTrigger_ExecutorErrorReleasesJob(t *testing.T) {
	exec := newBlockingExecutor()
	exec.err = errors.New("sink unreachable")
	close(exec.release)
	s := NewWithExecutor(exec)
	if err := s.Register(mobs("0 3 * * *")); err != nil {
		t.Fatal(err)
	}

	s.trigger(s.jobs["mobs"])
	s.trigger(s.jobs["mobs"])
	if exec.callCount() != 2 {
		t.Errorf("a failed run must not block the next one, calls = %d", exec.callCount())
	}
}

func TestTrigger_WithoutExecutor(t *testing.T) {
	s := New()
	if err := s.Register(mobs("0 3 * * *")); err != nil {
		t.Fatal(err)
	}
	s.trigger(s.jobs["mobs"])
	if s.IsRunning("mobs") {
		t.Error("trigger without executor should not leave the job running")
	}
}

func TestExecutorFunc(t *testing.T) {
	var got string
	f := ExecutorFunc(func(_ context.Context, p *connector.Pipeline) (*connector.RunResult, error) {
		got = p.ID
		return &connector.RunResult{PipelineID: p.ID}, nil
	})
	res, err := f.Execute(context.Background(), mobs("@daily"))
	if err != nil || res.PipelineID != "mobs" || got != "mobs" {
		t.Errorf("Execute() = %+v, %v", res, err)
	}
}

func TestStartStop(t *testing.T) {
	s := New()
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start = %v, want nil", err)
	}

	if err := s.Register(mobs("0 3 * * *")); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	if !s.IsStarted() {
		t.Error("IsStarted() = false")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsStarted() || s.PipelineCount() != 0 {
		t.Error("Stop() should clear the scheduler")
	}
}

func TestGetNextRun(t *testing.T) {
	s := New()
	if err := s.Register(mobs("@every 1h")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetNextRun("mobs"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("GetNextRun() before Start = %v, want ErrNotStarted", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	if _, err := s.GetNextRun("weapons"); !errors.Is(err, ErrPipelineNotFound) {
		t.Errorf("GetNextRun(unknown) = %v, want ErrPipelineNotFound", err)
	}

	// cron computes the first schedule asynchronously after Start.
	deadline := time.Now().Add(time.Second)
	var next time.Time
	for time.Now().Before(deadline) {
		n, err := s.GetNextRun("mobs")
		if err != nil {
			t.Fatalf("GetNextRun() error = %v", err)
		}
		if !n.IsZero() {
			next = n
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if until := time.Until(next); until <= 0 || until > time.Hour+time.Second {
		t.Errorf("next run in %v, want within the hour", until)
	}
}

func TestScheduledRun(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	exec := newBlockingExecutor()
	s := NewWithExecutor(exec)
	if err := s.Register(mobs("* * * * * *")); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, exec, 3*time.Second)

	// The run is still held, so a short deadline expires first.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() with a run in progress = %v, want DeadlineExceeded", err)
	}
	close(exec.release)
}
