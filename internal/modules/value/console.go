package value

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/canectors/normalizer/internal/logger"
)

// MaxLogMessageLength is the maximum length of a single script log message (8KB).
const MaxLogMessageLength = 8 * 1024

// jsConsole routes console.log/info/warn/error/debug from scripts to the logger.
type jsConsole struct {
	column string
}

// newJSConsole registers a console object in the runtime.
func newJSConsole(runtime *goja.Runtime) (*jsConsole, error) {
	c := &jsConsole{}

	console := runtime.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"debug": slog.LevelDebug,
	} {
		lvl := level
		fn := func(call goja.FunctionCall) goja.Value {
			c.logWithLevel(lvl, call.Arguments)
			return goja.Undefined()
		}
		if err := console.Set(name, fn); err != nil {
			return nil, fmt.Errorf("console.Set(%q): %w", name, err)
		}
	}
	if err := runtime.Set("console", console); err != nil {
		return nil, fmt.Errorf("runtime.Set(console): %w", err)
	}
	return c, nil
}

// setColumn updates the column reported with log messages.
func (c *jsConsole) setColumn(col string) {
	c.column = col
}

func (c *jsConsole) logWithLevel(level slog.Level, args []goja.Value) {
	message := formatArgs(args)
	if len(message) > MaxLogMessageLength {
		message = message[:MaxLogMessageLength-3] + "..."
	}

	attrs := []any{
		slog.String("source", "javascript"),
		slog.String("module_type", "script"),
	}
	if c.column != "" {
		attrs = append(attrs, slog.String("column", c.column))
	}

	switch level {
	case slog.LevelDebug:
		logger.Debug(message, attrs...)
	case slog.LevelWarn:
		logger.Warn(message, attrs...)
	case slog.LevelError:
		logger.Error(message, attrs...)
	default:
		logger.Info(message, attrs...)
	}
}

// formatArgs joins arguments the way console.log does: strings verbatim,
// everything else as JSON.
func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg == nil || goja.IsUndefined(arg):
			parts = append(parts, "undefined")
		case goja.IsNull(arg):
			parts = append(parts, "null")
		default:
			exported := arg.Export()
			if s, ok := exported.(string); ok {
				parts = append(parts, s)
				continue
			}
			data, err := json.Marshal(exported)
			if err != nil {
				parts = append(parts, arg.String())
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, " ")
}
