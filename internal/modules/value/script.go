package value

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dop251/goja"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/pathutil"
	"github.com/canectors/normalizer/pkg/record"
)

// Error codes for script failures.
const (
	ErrCodeScriptEmpty          = "SCRIPT_EMPTY"
	ErrCodeScriptTooLong        = "SCRIPT_TOO_LONG"
	ErrCodeCompilationFailed    = "COMPILATION_FAILED"
	ErrCodeMissingTransform     = "MISSING_TRANSFORM"
	ErrCodeNotFunction          = "NOT_FUNCTION"
	ErrCodeExecutionFailed      = "EXECUTION_FAILED"
	ErrCodeInvalidResult        = "INVALID_RESULT"
	ErrCodeInvalidScriptFile    = "INVALID_SCRIPT_FILE"
	ErrCodeScriptFileReadFailed = "SCRIPT_FILE_READ_FAILED"
)

// MaxScriptLength is the maximum script size (100KB).
const MaxScriptLength = 100 * 1024

// ScriptConfig configures the script transform. Exactly one of Script and
// ScriptFile must be set.
//
// The script must define:
//
//	function transform(value, column, record) { ... }
//
// It may return a string or number (the new value), an array (a sequence),
// null or undefined (drop the value), or {value: ..., set: {column: v}} to
// also write sibling columns.
type ScriptConfig struct {
	Script     string `json:"script,omitempty"`
	ScriptFile string `json:"scriptFile,omitempty"`
}

// ScriptError carries structured context for script failures.
type ScriptError struct {
	Code       string
	Message    string
	Column     string
	StackTrace string
	Err        error
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

func newScriptError(code, message string, err error) *ScriptError {
	return &ScriptError{Code: code, Message: message, Err: err}
}

// Script runs a user-supplied JavaScript function over each value.
// A goja runtime is not goroutine-safe; one runtime serves one transform.
type Script struct {
	runtime     *goja.Runtime
	transformFn goja.Callable
	console     *jsConsole
}

// NewScriptFromConfig compiles the script and resolves its transform function.
func NewScriptFromConfig(config ScriptConfig) (*Script, error) {
	source, err := resolveScriptSource(config)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" {
		return nil, newScriptError(ErrCodeScriptEmpty, "script cannot be empty", nil)
	}
	if len(source) > MaxScriptLength {
		return nil, newScriptError(ErrCodeScriptTooLong,
			fmt.Sprintf("script exceeds maximum length: %d bytes exceeds maximum %d bytes", len(source), MaxScriptLength), nil)
	}

	vm := goja.New()
	console, err := newJSConsole(vm)
	if err != nil {
		return nil, err
	}
	if _, err := vm.RunString(source); err != nil {
		return nil, newScriptError(ErrCodeCompilationFailed, fmt.Sprintf("script compilation failed: %v", err), err)
	}

	transformVal := vm.Get("transform")
	if transformVal == nil || goja.IsUndefined(transformVal) {
		return nil, newScriptError(ErrCodeMissingTransform, "transform function not found in script", nil)
	}
	transformFn, ok := goja.AssertFunction(transformVal)
	if !ok {
		return nil, newScriptError(ErrCodeNotFunction, "transform is not a function", nil)
	}

	logger.Debug("script transform initialized",
		slog.Int("script_length", len(source)),
		slog.Bool("from_file", config.ScriptFile != ""))

	return &Script{runtime: vm, transformFn: transformFn, console: console}, nil
}

func resolveScriptSource(config ScriptConfig) (string, error) {
	switch {
	case config.Script != "" && config.ScriptFile != "":
		return "", newScriptError(ErrCodeInvalidScriptFile, "cannot specify both 'script' and 'scriptFile' - use only one", nil)
	case config.Script != "":
		return config.Script, nil
	case config.ScriptFile == "":
		return "", newScriptError(ErrCodeScriptEmpty, "either 'script' or 'scriptFile' must be provided", nil)
	}

	if err := pathutil.ValidateFilePath(config.ScriptFile); err != nil {
		return "", newScriptError(ErrCodeInvalidScriptFile, err.Error(), err)
	}
	f, err := os.Open(config.ScriptFile) // #nosec G304 -- validated above
	if err != nil {
		return "", newScriptError(ErrCodeScriptFileReadFailed, fmt.Sprintf("failed to open script file %q: %v", config.ScriptFile, err), err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("failed to close script file", slog.String("file", config.ScriptFile), slog.String("error", closeErr.Error()))
		}
	}()

	content, err := io.ReadAll(io.LimitReader(f, MaxScriptLength+1))
	if err != nil {
		return "", newScriptError(ErrCodeScriptFileReadFailed, fmt.Sprintf("failed to read script file %q: %v", config.ScriptFile, err), err)
	}
	return string(content), nil
}

// ParseScriptConfig parses a raw configuration map into ScriptConfig.
func ParseScriptConfig(cfg map[string]interface{}) (ScriptConfig, error) {
	config := ScriptConfig{}

	script, hasScript := cfg["script"].(string)
	scriptFile, hasScriptFile := cfg["scriptFile"].(string)

	if hasScript && hasScriptFile {
		return config, fmt.Errorf("cannot specify both 'script' and 'scriptFile' - use only one")
	}
	if !hasScript && !hasScriptFile {
		return config, fmt.Errorf("either 'script' or 'scriptFile' is required in script config")
	}
	config.Script = script
	config.ScriptFile = scriptFile
	return config, nil
}

// ProcessValue implements filter.ValueFilter.
func (s *Script) ProcessValue(v any, vc filter.ValueContext) (filter.Output, error) {
	col := string(vc.Column())
	s.console.setColumn(col)
	defer s.console.setColumn("")

	result, err := s.transformFn(goja.Undefined(),
		s.runtime.ToValue(exportValue(v)),
		s.runtime.ToValue(col),
		s.runtime.ToValue(exportRecord(vc.Snapshot())))
	if err != nil {
		return filter.Output{}, s.jsError(err, col)
	}
	return s.toOutput(result, col)
}

func (s *Script) jsError(err error, col string) error {
	stackTrace := ""
	if jsErr, ok := err.(*goja.Exception); ok {
		stackTrace = jsErr.String()
	}
	e := newScriptError(ErrCodeExecutionFailed, fmt.Sprintf("script execution failed on column %s: %v", col, err), err)
	e.Column = col
	e.StackTrace = stackTrace
	return e
}

func (s *Script) toOutput(result goja.Value, col string) (filter.Output, error) {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return filter.Drop(), nil
	}

	switch exported := result.Export().(type) {
	case []interface{}:
		return filter.EmitAll(importValues(exported)...), nil
	case map[string]interface{}:
		out := filter.Output{Cell: importCell(exported["value"])}
		if set, ok := exported["set"].(map[string]interface{}); ok {
			for k, v := range set {
				out = out.With(record.Column(k), importCell(v))
			}
		}
		return out, nil
	default:
		v := importScalar(exported)
		if v == nil {
			e := newScriptError(ErrCodeInvalidResult, fmt.Sprintf("script returned unsupported type %T on column %s", exported, col), nil)
			e.Column = col
			return filter.Output{}, e
		}
		return filter.Emit(v), nil
	}
}

// exportValue converts a cell value to something scripts can read.
func exportValue(v any) any {
	switch t := v.(type) {
	case string, float64:
		return t
	case record.Range:
		return map[string]interface{}{"min": t.Min, "max": t.Max}
	default:
		return record.Text(v)
	}
}

// exportRecord converts a record to a plain object: scalars as values,
// sequences as arrays.
func exportRecord(rec record.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for col, c := range rec {
		if c.IsSequence() {
			vals := c.Values()
			arr := make([]interface{}, len(vals))
			for i, v := range vals {
				arr[i] = exportValue(v)
			}
			out[string(col)] = arr
			continue
		}
		out[string(col)] = exportValue(c.Value())
	}
	return out
}

func importCell(v interface{}) record.Cell {
	if arr, ok := v.([]interface{}); ok {
		return record.Sequence(importValues(arr)...)
	}
	return record.Scalar(importScalar(v))
}

func importValues(arr []interface{}) []any {
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		if v := importScalar(item); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// importScalar maps exported JavaScript primitives to cell values.
func importScalar(v interface{}) any {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return float64(t)
	case float64:
		return t
	case bool:
		return record.Text(t)
	default:
		return nil
	}
}

var _ filter.ValueFilter = (*Script)(nil)
