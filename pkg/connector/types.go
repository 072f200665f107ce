// Package connector provides the public types of a normalization pipeline:
// its declarative configuration and the result of one run.
// This package is intended to be importable by external projects that drive
// the normalizer or read its run state.
package connector

import "time"

// Pipeline represents a complete normalization pipeline configuration.
type Pipeline struct {
	// ID is the unique identifier for this pipeline
	ID string `json:"id"`

	// Name is the human-readable name of the pipeline
	Name string `json:"name"`

	// Description provides additional context about the pipeline
	Description string `json:"description,omitempty"`

	// Version is the pipeline configuration version
	Version string `json:"version"`

	// Columns is the closed vocabulary of columns records may carry.
	// An empty list accepts any column.
	Columns []string `json:"columns,omitempty"`

	// KeyColumn holds each record's natural key, quoted in diagnostics and
	// used as the default veto column
	KeyColumn string `json:"keyColumn,omitempty"`

	// Unknown is the sentinel written for unknown values (default "★不明")
	Unknown string `json:"unknown,omitempty"`

	// Names configures the canonical-name dictionaries
	Names *NamesConfig `json:"names,omitempty"`

	// Sources are read one after the other
	Sources []ModuleConfig `json:"sources"`

	// Steps is the ordered list of record and column transforms
	Steps []Step `json:"steps,omitempty"`

	// Sink receives every surviving record
	Sink *ModuleConfig `json:"sink"`

	// Schedule is a CRON expression for periodic runs
	Schedule string `json:"schedule,omitempty"`

	// Metrics configures run metrics export
	Metrics *MetricsConfig `json:"metrics,omitempty"`

	// DryRunOptions configures dry-run mode behavior
	DryRunOptions *DryRunOptions `json:"dryRunOptions,omitempty"`

	// StateDir is where run state is persisted (default "./normalizer-data/state")
	StateDir string `json:"stateDir,omitempty"`

	// Enabled indicates whether the pipeline is active
	Enabled bool `json:"enabled"`
}

// ModuleConfig represents the configuration of one source, sink, record
// transform or value transform.
type ModuleConfig struct {
	// Type identifies the registered module type (e.g. "csv", "split", "veto")
	Type string `json:"type"`

	// Config contains the module-specific configuration
	Config map[string]interface{} `json:"config,omitempty"`
}

// Step is one entry of the pipeline's step list. Exactly one of Filter or
// Transforms is set. Transforms apply to Columns, or to every column present
// on the record when AllColumns is set.
type Step struct {
	Filter *ModuleConfig `json:"filter,omitempty"`

	Columns    []string       `json:"columns,omitempty"`
	AllColumns bool           `json:"allColumns,omitempty"`
	Transforms []ModuleConfig `json:"transforms,omitempty"`
}

// NamesConfig configures the canonical-name dictionaries: one CSV file per
// column, at <Dir>/<column>.csv.
type NamesConfig struct {
	Dir     string   `json:"dir"`
	Columns []string `json:"columns"`
	// Prune drops aliases not looked up during the run when saving
	Prune bool `json:"prune"`
}

// MetricsConfig configures Prometheus metrics export.
type MetricsConfig struct {
	// Pushgateway is the base URL of a Prometheus Pushgateway
	Pushgateway string `json:"pushgateway,omitempty"`
	// Job is the Pushgateway job name (default "normalizer")
	Job string `json:"job,omitempty"`
}

// DryRunOptions configures dry-run mode behavior.
type DryRunOptions struct {
	// PreviewRecords is how many delivered records are logged
	PreviewRecords int `json:"previewRecords,omitempty"`
}

// Run status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	// StatusPartial means every record was delivered but finalizing failed.
	StatusPartial = "partial"
)

// RunResult represents the result of one pipeline run.
type RunResult struct {
	RunID      string `json:"runId"`
	PipelineID string `json:"pipelineId"`

	// Status is one of StatusSuccess, StatusError or StatusPartial
	Status string `json:"status"`
	DryRun bool   `json:"dryRun,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`

	// Fetched counts pulled records, Delivered those that reached the sink
	// and Skipped those vetoed on the way
	Fetched   int `json:"fetched"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`

	// NamesAdded counts aliases registered in the dictionaries
	NamesAdded int `json:"namesAdded,omitempty"`

	Error *RunError `json:"error,omitempty"`
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunError contains details about a run failure.
type RunError struct {
	// Category is the errhandling category (configuration, parse, io...)
	Category string `json:"category"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// RecordIndex is the 1-based position of the failing record, 0 if none
	RecordIndex int `json:"recordIndex,omitempty"`

	// Fatal is false for finalization failures, which leave delivered
	// records in place
	Fatal bool `json:"fatal"`
}
