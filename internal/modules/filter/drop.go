// This file implements the "drop" record transform, which removes columns
// from each record. Columns missing on a record are ignored.
package filter

import (
	"errors"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/record"
)

// DropConfig represents the configuration for a drop filter module.
type DropConfig struct {
	// Column is a single column to remove.
	Column string `json:"column"`
	// Columns is a list of columns to remove.
	Columns []string `json:"columns"`
}

// DropModule removes columns from each record.
type DropModule struct {
	columns []record.Column
}

// NewDropFromConfig creates a new drop filter module from configuration.
// It validates that at least one column is provided.
func NewDropFromConfig(config DropConfig) (*DropModule, error) {
	cols := config.Columns
	if config.Column != "" {
		cols = append(cols, config.Column)
	}

	// Remove duplicates while preserving order
	seen := make(map[string]bool)
	unique := make([]record.Column, 0, len(cols))
	for _, c := range cols {
		if c != "" && !seen[c] {
			seen[c] = true
			unique = append(unique, record.Column(c))
		}
	}

	if len(unique) == 0 {
		return nil, errors.New("at least one non-empty column is required")
	}

	logger.Debug("drop filter module initialized", "columns", unique)

	return &DropModule{columns: unique}, nil
}

// Process implements the filter.Module interface.
func (m *DropModule) Process(rec record.Record) (Result, error) {
	if rec == nil {
		return Continue(rec), nil
	}
	out := rec.Clone()
	for _, col := range m.columns {
		out.Delete(col)
	}
	return Continue(out), nil
}

// ParseDropConfig parses a raw configuration map into DropConfig.
func ParseDropConfig(config map[string]interface{}) (DropConfig, error) {
	var cfg DropConfig

	if col, ok := config["column"].(string); ok && col != "" {
		cfg.Column = col
	}
	cfg.Columns = stringList(config["columns"])

	if cfg.Column == "" && len(cfg.Columns) == 0 {
		return cfg, errors.New("'column' or 'columns' is required")
	}

	return cfg, nil
}

// Verify interface compliance at compile time
var _ Module = (*DropModule)(nil)
