package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/scheduler"
	"github.com/canectors/normalizer/pkg/connector"
)

// Loaded is a pipeline read from a file, with the absolute directory its
// relative paths are resolved against.
type Loaded struct {
	Pipeline *connector.Pipeline
	BaseDir  string
	Path     string
	Format   string
}

// Load parses, validates and converts the configuration at path. Every
// parse and validation problem is reported in one ConfigError.
func Load(path string) (*Loaded, error) {
	result := ParseConfig(path)
	if !result.IsValid() {
		return nil, errhandling.NewConfigError("config "+path, "invalid configuration", errors.Join(result.AllErrors()...))
	}

	p, err := ConvertToPipeline(result.Data)
	if err != nil {
		return nil, errhandling.NewConfigError("config "+path, "invalid configuration", err)
	}
	if errs := CheckPipeline(p); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, errhandling.NewConfigError("config "+path, "inconsistent pipeline", errors.Join(joined...))
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errhandling.NewConfigError("config "+path, "cannot resolve directory", err)
	}

	return &Loaded{
		Pipeline: p,
		BaseDir:  baseDir,
		Path:     path,
		Format:   result.Format,
	}, nil
}

// CheckPipeline reports the consistency problems the schema cannot express:
// columns referenced outside the pipeline vocabulary and invalid schedules.
func CheckPipeline(p *connector.Pipeline) []ValidationError {
	var errs []ValidationError
	known := func(col string) bool {
		return len(p.Columns) == 0 || slices.Contains(p.Columns, col)
	}
	unknown := func(path, col string) {
		errs = append(errs, ValidationError{
			Path:    path,
			Type:    "reference",
			Message: fmt.Sprintf("column %q is not in pipeline.columns (%s)", col, strings.Join(p.Columns, ", ")),
		})
	}

	if p.KeyColumn != "" && !known(p.KeyColumn) {
		unknown("/pipeline/keyColumn", p.KeyColumn)
	}
	if p.Names != nil {
		for i, col := range p.Names.Columns {
			if !known(col) {
				unknown(fmt.Sprintf("/pipeline/names/columns/%d", i), col)
			}
		}
	}
	for i, step := range p.Steps {
		for j, col := range step.Columns {
			if !known(col) {
				unknown(fmt.Sprintf("/pipeline/steps/%d/columns/%d", i, j), col)
			}
		}
		if step.Filter == nil && len(step.Transforms) == 0 {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/pipeline/steps/%d", i),
				Type:    "required",
				Message: "step has neither a filter nor transforms",
			})
		}
	}
	if p.Schedule != "" {
		if err := scheduler.ValidateCronExpression(p.Schedule); err != nil {
			errs = append(errs, ValidationError{Path: "/pipeline/schedule", Type: "format", Message: err.Error()})
		}
	}
	return errs
}
