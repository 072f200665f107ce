// This file implements the "veto" record transform. It drops whole records
// before any column processing, either because their identifying column is on
// a block list or because a boolean expression holds for them.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/record"
)

// Error codes for veto evaluation failures.
const (
	ErrCodeInvalidExpression = "INVALID_EXPRESSION"
	ErrCodeEvaluationFailed  = "EVALUATION_FAILED"
)

// ErrEmptyVeto is returned when neither a block list nor an expression is configured.
var ErrEmptyVeto = errors.New("veto requires 'values' or 'expression'")

// VetoConfig represents the configuration for a veto filter module.
type VetoConfig struct {
	// Column is the identifying column checked against Values.
	// Defaults to the pipeline key column.
	Column string `json:"column,omitempty"`
	// Values is the block list.
	Values []string `json:"values,omitempty"`
	// Expression is an optional expr-lang boolean expression evaluated against
	// the record's columns; the record is vetoed when it is true.
	Expression string `json:"expression,omitempty"`
}

// VetoError carries structured context for expression failures.
type VetoError struct {
	Code       string
	Message    string
	Expression string
	Key        string
}

func (e *VetoError) Error() string {
	return e.Message
}

// VetoModule drops blocked records.
type VetoModule struct {
	column     record.Column
	blocked    map[string]struct{}
	expression string
	program    *vm.Program
}

// NewVetoFromConfig creates a veto module. keyColumn is used when the config
// names no column.
func NewVetoFromConfig(config VetoConfig, keyColumn record.Column) (*VetoModule, error) {
	col := record.Column(config.Column)
	if col == "" {
		col = keyColumn
	}
	expression := strings.TrimSpace(config.Expression)
	if len(config.Values) == 0 && expression == "" {
		return nil, ErrEmptyVeto
	}
	if len(config.Values) > 0 && col == "" {
		return nil, errors.New("veto block list requires 'column' or a pipeline key column")
	}

	m := &VetoModule{
		column:     col,
		blocked:    make(map[string]struct{}, len(config.Values)),
		expression: expression,
	}
	for _, v := range config.Values {
		m.blocked[v] = struct{}{}
	}

	if expression != "" {
		program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, &VetoError{
				Code:       ErrCodeInvalidExpression,
				Message:    fmt.Sprintf("invalid veto expression: %v", err),
				Expression: expression,
			}
		}
		m.program = program
	}

	logger.Debug("veto filter module initialized",
		slog.String("column", string(col)),
		slog.Int("blocked", len(m.blocked)),
		slog.Bool("has_expression", m.program != nil))

	return m, nil
}

// Process implements Module.
func (m *VetoModule) Process(rec record.Record) (Result, error) {
	if rec == nil {
		return Continue(rec), nil
	}

	if m.column != "" {
		key := rec.Text(m.column)
		if _, ok := m.blocked[key]; ok {
			logger.Info("record vetoed", slog.String("column", string(m.column)), slog.String("key", key))
			return Skip(fmt.Sprintf("%s %q is blocked", m.column, key)), nil
		}
	}

	if m.program != nil {
		out, err := expr.Run(m.program, expressionEnv(rec))
		if err != nil {
			return Result{}, &VetoError{
				Code:       ErrCodeEvaluationFailed,
				Message:    fmt.Sprintf("veto expression failed: %v", err),
				Expression: m.expression,
				Key:        rec.Text(m.column),
			}
		}
		if vetoed, _ := out.(bool); vetoed {
			logger.Info("record vetoed by expression",
				slog.String("expression", m.expression),
				slog.String("key", rec.Text(m.column)))
			return Skip("expression " + m.expression), nil
		}
	}

	return Continue(rec), nil
}

// expressionEnv exposes scalars as text and sequences as string lists.
func expressionEnv(rec record.Record) map[string]interface{} {
	env := make(map[string]interface{}, len(rec))
	for col, c := range rec {
		if c.IsSequence() {
			vals := c.Values()
			texts := make([]string, len(vals))
			for i, v := range vals {
				texts[i] = record.Text(v)
			}
			env[string(col)] = texts
			continue
		}
		env[string(col)] = record.Text(c.Value())
	}
	return env
}

// ParseVetoConfig parses a raw configuration map into VetoConfig.
func ParseVetoConfig(config map[string]interface{}) (VetoConfig, error) {
	var cfg VetoConfig

	if col, ok := config["column"].(string); ok {
		cfg.Column = col
	}
	cfg.Values = stringList(config["values"])
	if e, ok := config["expression"].(string); ok {
		cfg.Expression = e
	}

	if len(cfg.Values) == 0 && strings.TrimSpace(cfg.Expression) == "" {
		return cfg, ErrEmptyVeto
	}
	return cfg, nil
}

// stringList reads a []interface{} or []string config value, skipping empty items.
func stringList(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t != "" {
			return []string{t}
		}
	}
	return nil
}

var _ Module = (*VetoModule)(nil)
