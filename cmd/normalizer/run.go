package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/canectors/normalizer/internal/cli"
	"github.com/canectors/normalizer/internal/config"
	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/factory"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/metrics"
	"github.com/canectors/normalizer/internal/pathutil"
	"github.com/canectors/normalizer/internal/persistence"
	"github.com/canectors/normalizer/internal/runtime"
	"github.com/canectors/normalizer/internal/scheduler"
	"github.com/canectors/normalizer/pkg/connector"
)

const (
	pushTimeout     = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func runOnce(cmd *cobra.Command, opts *options, loaded *config.Loaded) error {
	p := loaded.Pipeline
	if !p.Enabled {
		if !opts.quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %q is disabled, nothing to do\n", p.ID)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := executePipeline(ctx, opts, loaded)
	cli.PrintRunResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result, err, opts.output())
	if err != nil {
		return &exitError{code: exitCodeFor(err)}
	}
	return nil
}

func runScheduled(cmd *cobra.Command, opts *options, path string, loaded *config.Loaded) error {
	p := loaded.Pipeline
	errw := cmd.ErrOrStderr()
	if p.Schedule == "" {
		fmt.Fprintf(errw, "✗ Pipeline %q has no schedule\n", p.ID)
		return &exitError{code: ExitValidationError}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Each trigger rereads the file so edits apply on the next run.
	sched := scheduler.NewWithExecutor(reloadingExecutor(opts, path, loaded))

	if err := sched.Register(p); err != nil {
		fmt.Fprintf(errw, "✗ Cannot schedule pipeline: %v\n", err)
		return &exitError{code: ExitValidationError}
	}
	if err := sched.Start(ctx); err != nil {
		fmt.Fprintf(errw, "✗ Cannot start scheduler: %v\n", err)
		return &exitError{code: ExitRuntimeError}
	}

	if !opts.quiet {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scheduled pipeline %q (%s)\n", p.ID, p.Schedule)
		if next, err := sched.GetNextRun(p.ID); err == nil {
			fmt.Fprintf(out, "  Next run: %s\n", next.Format(time.RFC3339))
		}
		fmt.Fprintln(out, "Press Ctrl+C to stop")
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		fmt.Fprintf(errw, "✗ Scheduler did not stop cleanly: %v\n", err)
		return &exitError{code: ExitRuntimeError}
	}
	return nil
}

// reloadingExecutor runs the configuration at path as it reads on each
// trigger. When the file no longer loads, the last version that did is run.
// The scheduler never overlaps runs of one pipeline, so last needs no lock.
func reloadingExecutor(opts *options, path string, loaded *config.Loaded) scheduler.ExecutorFunc {
	last := loaded
	return func(ctx context.Context, _ *connector.Pipeline) (*connector.RunResult, error) {
		current, err := config.Load(path)
		if err != nil {
			logger.Warn("configuration reload failed, using previous version",
				slog.String("config", path),
				slog.String("error", err.Error()))
			current = last
		}
		last = current
		return executePipeline(ctx, opts, current)
	}
}

// executePipeline builds and runs one pipeline, then records its state and
// metrics. The result is nil only when the pipeline could not be built.
func executePipeline(ctx context.Context, opts *options, loaded *config.Loaded) (*connector.RunResult, error) {
	p := loaded.Pipeline

	a, err := factory.Build(p,
		factory.WithBaseDir(loaded.BaseDir),
		factory.WithDryRun(opts.dryRun),
		factory.WithNoPrune(opts.noPrune),
	)
	if err != nil {
		return nil, err
	}

	runner := runtime.NewRunner(a.Chain,
		runtime.WithName(p.Name),
		runtime.WithPipelineID(p.ID),
		runtime.WithDryRun(a.DryRun),
		runtime.WithNames(a.Names),
	)
	result, runErr := runner.Run(ctx)
	if result.DryRun {
		return result, runErr
	}

	store := persistence.NewStateStore(stateDir(loaded))
	if _, err := store.Record(result); err != nil {
		logger.Warn("failed to record run state",
			slog.String("pipeline_id", p.ID),
			slog.String("error", err.Error()))
	}

	if p.Metrics != nil && p.Metrics.Pushgateway != "" {
		pushMetrics(ctx, p, result)
	}
	return result, runErr
}

func pushMetrics(ctx context.Context, p *connector.Pipeline, result *connector.RunResult) {
	rec, err := metrics.NewRecorder()
	if err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
		return
	}
	rec.Observe(result)

	// An interrupted run still reports its metrics.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := rec.Push(pushCtx, p.Metrics.Pushgateway, p.Metrics.Job); err != nil {
		logger.Warn("failed to push metrics",
			slog.String("pipeline_id", p.ID),
			slog.String("error", err.Error()))
	}
}

func stateDir(loaded *config.Loaded) string {
	dir := loaded.Pipeline.StateDir
	if dir == "" {
		dir = persistence.DefaultStatePath
	}
	return pathutil.Resolve(loaded.BaseDir, dir)
}

func absDir(path string) (string, error) {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return "", errhandling.NewConfigError("config "+path, "cannot resolve directory", err)
	}
	return dir, nil
}
