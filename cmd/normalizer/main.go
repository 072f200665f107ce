// Package main provides the CLI entry point for the record normalizer.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/canectors/normalizer/internal/cli"
	"github.com/canectors/normalizer/internal/config"
	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/names"
	"github.com/canectors/normalizer/internal/pathutil"
	"github.com/canectors/normalizer/internal/persistence"
	"github.com/canectors/normalizer/pkg/record"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

// Build information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries an exit code out of a command. Its message has already
// been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// options holds the flag values of one command tree.
type options struct {
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string

	dryRun   bool
	schedule bool
	noPrune  bool
}

func (o *options) output() cli.OutputOptions {
	return cli.OutputOptions{Verbose: o.verbose, Quiet: o.quiet, DryRun: o.dryRun}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the process exit code.
func execute(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	logger.CloseLogFile()

	var exitErr *exitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var exitErr *exitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.code
	default:
		// usage errors from cobra
		return ExitValidationError
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "normalizer",
		Short: "Normalizer - declarative record normalization runtime",
		Long: `Normalizer pulls records from CSV files or databases, runs them through a
chain of value and record transforms, and writes the normalized records.

Pipelines are described in JSON or YAML and validated against a schema
before anything is read.

Examples:
  # Validate a configuration file
  normalizer validate mobs.yaml

  # Run a pipeline once
  normalizer run mobs.yaml

  # Preview a run without writing output or dictionaries
  normalizer run --dry-run mobs.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return configureLogging(opts)
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "Log format: json or human")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")

	root.AddCommand(newValidateCmd(opts), newRunCmd(opts), newNamesCmd(opts), newStatusCmd(opts), newVersionCmd())
	return root
}

func configureLogging(opts *options) error {
	format, err := logger.ParseFormat(opts.logFormat)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	switch {
	case opts.verbose:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelError
	}
	if opts.logFile != "" {
		return logger.SetLogFile(opts.logFile, level, format)
	}
	logger.SetLevelAndFormat(level, format)
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a pipeline configuration file",
		Long: `Validate a pipeline configuration file against the schema, then check that
every referenced column belongs to the pipeline and the schedule parses.

Exit codes:
  0 - Configuration is valid
  1 - Validation errors (schema or consistency)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !opts.quiet {
				fmt.Fprintf(out, "Validating configuration: %s\n", args[0])
			}
			loaded, err := loadPipeline(cmd, opts, args[0])
			if err != nil {
				return err
			}
			if !opts.quiet {
				fmt.Fprintf(out, "✓ Configuration is valid (format: %s)\n", loaded.Format)
				if opts.verbose {
					cli.PrintPipelineSummary(out, loaded.Pipeline)
				}
			}
			return nil
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Run a pipeline from configuration file",
		Long: `Run a pipeline defined in the configuration file.

The configuration is validated first; nothing is read when it is invalid.
With --schedule the pipeline runs on its cron schedule until interrupted.

Exit codes:
  0 - Pipeline ran successfully
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors (including a failure to finalize output)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadPipeline(cmd, opts, args[0])
			if err != nil {
				return err
			}
			if opts.schedule {
				return runScheduled(cmd, opts, args[0], loaded)
			}
			return runOnce(cmd, opts, loaded)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run without writing output or saving dictionaries")
	cmd.Flags().BoolVar(&opts.schedule, "schedule", false, "Keep running on the pipeline's cron schedule")
	cmd.Flags().BoolVar(&opts.noPrune, "no-prune", false, "Keep dictionary entries unused by this run")
	return cmd
}

func newNamesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "names <config-file>",
		Short: "Report the pipeline's name dictionaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadPipeline(cmd, opts, args[0])
			if err != nil {
				return err
			}
			p := loaded.Pipeline
			if p.Names == nil {
				cli.PrintNamesReport(cmd.OutOrStdout(), nil)
				return nil
			}
			cols := make([]record.Column, len(p.Names.Columns))
			for i, c := range p.Names.Columns {
				cols[i] = record.Column(c)
			}
			set, err := names.LoadSet(pathutil.Resolve(loaded.BaseDir, p.Names.Dir), cols, names.WithReadOnly(true))
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Failed to load dictionaries: %v\n", err)
				return &exitError{code: exitCodeFor(err)}
			}
			cli.PrintNamesReport(cmd.OutOrStdout(), set)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <config-file>",
		Short: "Show the last recorded run of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadPipeline(cmd, opts, args[0])
			if err != nil {
				return err
			}
			store := persistence.NewStateStore(stateDir(loaded))
			state, err := store.Load(loaded.Pipeline.ID)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Failed to read state: %v\n", err)
				return &exitError{code: ExitRuntimeError}
			}
			cli.PrintState(cmd.OutOrStdout(), loaded.Pipeline.ID, state)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// loadPipeline parses, validates and converts the configuration, printing
// every problem found. The returned error is an *exitError.
func loadPipeline(cmd *cobra.Command, opts *options, path string) (*config.Loaded, error) {
	errw := cmd.ErrOrStderr()

	result := config.ParseConfig(path)
	if len(result.ParseErrors) > 0 {
		cli.PrintParseErrors(errw, result.ParseErrors, opts.verbose)
		return nil, &exitError{code: ExitParseError}
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintValidationErrors(errw, result.ValidationErrors, opts.verbose, opts.quiet)
		return nil, &exitError{code: ExitValidationError}
	}

	p, err := config.ConvertToPipeline(result.Data)
	if err != nil {
		fmt.Fprintf(errw, "✗ Failed to convert configuration: %v\n", err)
		return nil, &exitError{code: ExitValidationError}
	}
	if errs := config.CheckPipeline(p); len(errs) > 0 {
		cli.PrintValidationErrors(errw, errs, opts.verbose, opts.quiet)
		return nil, &exitError{code: ExitValidationError}
	}

	baseDir, err := absDir(path)
	if err != nil {
		fmt.Fprintf(errw, "✗ %v\n", err)
		return nil, &exitError{code: ExitRuntimeError}
	}
	return &config.Loaded{Pipeline: p, BaseDir: baseDir, Path: path, Format: result.Format}, nil
}

// exitCodeFor maps a run or build error to an exit code.
func exitCodeFor(err error) int {
	if errhandling.GetErrorCategory(err) == errhandling.CategoryConfiguration {
		return ExitValidationError
	}
	return ExitRuntimeError
}
