// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the normalizer.
//
// Besides the level helpers, the package carries run context helpers so that
// every line emitted while a pipeline runs shares the same snake_case fields
// (run_id, pipeline_name, module_type...).
//
// The package supports two output formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
//
// Logs go to stderr so that a sink writing to stdout stays clean.
package logger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// SetLevel configures the logging level.
func SetLevel(level slog.Level) {
	SetLevelAndFormat(level, FormatJSON)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// WithPipeline returns a logger with pipeline context.
func WithPipeline(name string) *slog.Logger {
	return Logger.With(slog.String("pipeline_name", name))
}

// WithModule returns a logger with module context.
func WithModule(moduleType string, column string) *slog.Logger {
	if column == "" {
		return Logger.With(slog.String("module_type", moduleType))
	}
	return Logger.With(slog.String("module_type", moduleType), slog.String("column", column))
}

// RunContext contains context information for pipeline run logging.
type RunContext struct {
	// RunID identifies one run of a pipeline (required)
	RunID string
	// PipelineName is the human-readable name of the pipeline
	PipelineName string
	// Stage is the current stage (source, step, sink)
	Stage string
	// ModuleType is the registered type of the module
	ModuleType string
	// Column is the column a value transform is bound to
	Column string
	// DryRun indicates a run whose sink and dictionaries do not persist
	DryRun bool
}

// RunMetrics contains the counters of a finished run.
type RunMetrics struct {
	Fetched   int
	Delivered int
	Skipped   int
	Duration  time.Duration
	// RecordsPerSecond is delivered records over Duration
	RecordsPerSecond float64
	// NamesAdded counts dictionary entries created during the run
	NamesAdded int
}

// ErrorContext contains structured context for error logging.
// Use this with LogError() for consistent, actionable error logs.
type ErrorContext struct {
	RunID        string
	PipelineName string
	Stage        string
	ModuleType   string

	ErrorCategory string
	Err           error

	// RecordIndex is the 1-based position of the failing record, 0 when unknown
	RecordIndex int
	Key         string
	Column      string

	Extra map[string]interface{}
}

// WithRun returns a logger with run context attached.
// Only non-empty fields are included in the log output.
func WithRun(ctx RunContext) *slog.Logger {
	return Logger.With(buildContextAttrs(ctx)...)
}

// LogRunStart logs the start of a pipeline run.
func LogRunStart(ctx RunContext) {
	Logger.Info("run started", buildContextAttrs(ctx)...)
}

// LogRunEnd logs the end of a pipeline run with its final status.
func LogRunEnd(ctx RunContext, status string, delivered int, duration time.Duration) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.String("status", status),
		slog.Int("records_delivered", delivered),
		slog.Duration("duration", duration),
	)
	if status == "success" {
		Logger.Info("run completed", attrs...)
		return
	}
	Logger.Error("run failed", attrs...)
}

// LogSkip logs a record dropped by a veto.
func LogSkip(ctx RunContext, index int, reason string) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs, slog.Int("record_index", index), slog.String("reason", reason))
	Logger.Info("record skipped", attrs...)
}

// LogMetrics logs the counters of a finished run.
func LogMetrics(ctx RunContext, m RunMetrics) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Int("records_fetched", m.Fetched),
		slog.Int("records_delivered", m.Delivered),
		slog.Int("records_skipped", m.Skipped),
		slog.Int("names_added", m.NamesAdded),
		slog.Duration("total_duration", m.Duration),
		slog.Float64("records_per_second", m.RecordsPerSecond),
	)
	Logger.Info("run metrics", attrs...)
}

// LogError logs an error with full run context.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.RunID != "" {
		attrs = append(attrs, slog.String("run_id", errCtx.RunID))
	}
	if errCtx.PipelineName != "" {
		attrs = append(attrs, slog.String("pipeline_name", errCtx.PipelineName))
	}
	if errCtx.Stage != "" {
		attrs = append(attrs, slog.String("stage", errCtx.Stage))
	}
	if errCtx.ModuleType != "" {
		attrs = append(attrs, slog.String("module_type", errCtx.ModuleType))
	}
	if errCtx.ErrorCategory != "" {
		attrs = append(attrs, slog.String("error_category", errCtx.ErrorCategory))
	}
	if errCtx.Err != nil {
		attrs = append(attrs,
			slog.String("error", errCtx.Err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)))

		chain := []string{errCtx.Err.Error()}
		for cur := errors.Unwrap(errCtx.Err); cur != nil; cur = errors.Unwrap(cur) {
			chain = append(chain, cur.Error())
		}
		if len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.RecordIndex > 0 {
		attrs = append(attrs, slog.Int("record_index", errCtx.RecordIndex))
	}
	if errCtx.Key != "" {
		attrs = append(attrs, slog.String("key", errCtx.Key))
	}
	if errCtx.Column != "" {
		attrs = append(attrs, slog.String("column", errCtx.Column))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

func buildContextAttrs(ctx RunContext) []any {
	attrs := make([]any, 0, 6)
	attrs = append(attrs, slog.String("run_id", ctx.RunID))
	if ctx.PipelineName != "" {
		attrs = append(attrs, slog.String("pipeline_name", ctx.PipelineName))
	}
	if ctx.Stage != "" {
		attrs = append(attrs, slog.String("stage", ctx.Stage))
	}
	if ctx.ModuleType != "" {
		attrs = append(attrs, slog.String("module_type", ctx.ModuleType))
	}
	if ctx.Column != "" {
		attrs = append(attrs, slog.String("column", ctx.Column))
	}
	if ctx.DryRun {
		attrs = append(attrs, slog.Bool("dry_run", true))
	}
	return attrs
}

// FormatMetricsHuman formats run metrics for the CLI summary line.
func FormatMetricsHuman(m RunMetrics) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Delivered %d of %d records in %s",
		m.Delivered, m.Fetched, formatDuration(m.Duration))
	if m.RecordsPerSecond > 0 {
		fmt.Fprintf(&sb, " (%.1f records/sec)", m.RecordsPerSecond)
	}
	if m.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", m.Skipped)
	}
	if m.NamesAdded > 0 {
		fmt.Fprintf(&sb, ", %d new names", m.NamesAdded)
	}
	return sb.String()
}
