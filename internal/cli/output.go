package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/names"
	"github.com/canectors/normalizer/internal/persistence"
	"github.com/canectors/normalizer/pkg/connector"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
	DryRun  bool
}

// PrintRunResult displays the outcome of one run. Failures go to errw,
// the summary to w.
func PrintRunResult(w, errw io.Writer, result *connector.RunResult, err error, opts OutputOptions) {
	if result == nil {
		fmt.Fprintln(errw, "✗ No run result available")
		if err != nil {
			fmt.Fprintf(errw, "  Error: %v\n", err)
		}
		return
	}

	if result.Status == connector.StatusError {
		fmt.Fprintln(errw, "✗ Pipeline run failed")
		if result.Error != nil {
			fmt.Fprintf(errw, "  Category: %s\n", result.Error.Category)
			if result.Error.RecordIndex > 0 {
				fmt.Fprintf(errw, "  Record: %d\n", result.Error.RecordIndex)
			}
			fmt.Fprintf(errw, "  Error: %s\n", result.Error.Message)
		}
		return
	}

	if result.Status == connector.StatusPartial {
		fmt.Fprintln(errw, "⚠ Records delivered, but finalizing failed")
		if result.Error != nil {
			fmt.Fprintf(errw, "  Error: %s\n", result.Error.Message)
		}
	}

	if opts.Quiet {
		return
	}
	if result.Status == connector.StatusSuccess {
		fmt.Fprintln(w, "✓ Pipeline run completed")
	}
	fmt.Fprintf(w, "  %s\n", logger.FormatMetricsHuman(runMetrics(result)))
	if opts.Verbose {
		fmt.Fprintf(w, "  Run ID: %s\n", result.RunID)
		fmt.Fprintf(w, "  Status: %s\n", result.Status)
	}
	if opts.DryRun {
		fmt.Fprintln(w, "ℹ Dry run: no output was written and dictionaries were not saved")
	}
}

func runMetrics(result *connector.RunResult) logger.RunMetrics {
	m := logger.RunMetrics{
		Fetched:    result.Fetched,
		Delivered:  result.Delivered,
		Skipped:    result.Skipped,
		Duration:   result.Duration(),
		NamesAdded: result.NamesAdded,
	}
	if secs := m.Duration.Seconds(); secs > 0 {
		m.RecordsPerSecond = float64(m.Delivered) / secs
	}
	return m
}

// PrintPipelineSummary prints the pipeline name, version and shape.
func PrintPipelineSummary(w io.Writer, p *connector.Pipeline) {
	if p == nil {
		return
	}
	fmt.Fprintf(w, "  Pipeline: %s", p.Name)
	if p.Version != "" {
		fmt.Fprintf(w, " (v%s)", p.Version)
	}
	fmt.Fprintln(w)
	if p.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", p.Description)
	}
	fmt.Fprintf(w, "  Sources: %d, steps: %d", len(p.Sources), len(p.Steps))
	if p.Sink != nil {
		fmt.Fprintf(w, ", sink: %s", p.Sink.Type)
	}
	fmt.Fprintln(w)
	if p.Schedule != "" {
		fmt.Fprintf(w, "  Schedule: %s\n", p.Schedule)
	}
	if !p.Enabled {
		fmt.Fprintln(w, "  Disabled")
	}
}

// PrintNamesReport lists the dictionaries of set with their sizes.
func PrintNamesReport(w io.Writer, set *names.Set) {
	if set == nil || len(set.Columns()) == 0 {
		fmt.Fprintln(w, "No dictionaries configured")
		return
	}
	fmt.Fprintf(w, "Dictionaries in %s:\n", set.Dir())
	for _, col := range set.Columns() {
		n := set.For(col)
		fmt.Fprintf(w, "  %s: %d aliases, %d unmapped (%s)\n", col, n.Len(), len(n.Unmapped()), n.Path())
	}
}

// PrintState displays the persisted state of a pipeline.
func PrintState(w io.Writer, pipelineID string, state *persistence.State) {
	if state == nil {
		fmt.Fprintf(w, "No runs recorded for %s\n", pipelineID)
		return
	}
	fmt.Fprintf(w, "Pipeline: %s\n", state.PipelineID)
	fmt.Fprintf(w, "  Runs: %d (failures: %d)\n", state.Runs, state.Failures)
	if state.LastSuccessAt != nil {
		fmt.Fprintf(w, "  Last success: %s\n", state.LastSuccessAt.Format(time.RFC3339))
	}
	if last := state.LastRun; last != nil {
		fmt.Fprintf(w, "  Last run: %s at %s\n", last.Status, last.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "    %s\n", logger.FormatMetricsHuman(runMetrics(last)))
		if last.Error != nil {
			fmt.Fprintf(w, "    Error: %s\n", last.Error.Message)
		}
	}
}
