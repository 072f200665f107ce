package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/pipeline-schema.json
var embeddedSchema []byte

const schemaURL = "https://canectors.io/schemas/normalizer/v1.0.0/pipeline-schema.json"

// printer renders schema violations without the validator's preamble.
var printer = message.NewPrinter(language.English)

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// GetEmbeddedSchema returns the embedded pipeline schema.
func GetEmbeddedSchema() []byte {
	return embeddedSchema
}

// getCompiledSchema compiles the embedded schema once.
func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc interface{}
		if err := json.Unmarshal(embeddedSchema, &doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, schemaInitErr = compiler.Compile(schemaURL)
		if schemaInitErr != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", schemaInitErr)
		}
	})
	return compiledSchema, schemaInitErr
}

// ValidateConfig validates a parsed document against the pipeline schema.
func ValidateConfig(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}
	fail := func(typ, msg string) *ValidationResult {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Path: "/", Type: typ, Message: msg})
		return result
	}

	if len(data) == 0 {
		return fail("required", "configuration is empty")
	}

	schema, err := getCompiledSchema()
	if err != nil {
		return fail("schema", fmt.Sprintf("failed to load schema: %v", err))
	}

	if err := schema.Validate(data); err != nil {
		result.Valid = false
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			result.Errors = leafErrors(detailed)
		}
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, ValidationError{Path: "/", Type: "validation", Message: err.Error()})
		}
	}
	return result
}

// leafErrors flattens a validation error tree into its most specific causes.
func leafErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		msg := err.Error()
		if err.ErrorKind != nil {
			msg = err.ErrorKind.LocalizedString(printer)
		}
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    errorType(msg),
			Message: msg,
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}

// formatInstanceLocation formats the instance location as a JSON pointer.
func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// errorType derives a short error type from a violation message.
func errorType(msg string) string {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "additional"):
		return "additionalProperties"
	case strings.Contains(msg, "missing"), strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "const"), strings.Contains(msg, "enum"):
		return "enum"
	case strings.Contains(msg, "pattern"):
		return "pattern"
	case strings.Contains(msg, "minimum"), strings.Contains(msg, "maximum"),
		strings.Contains(msg, "minitems"), strings.Contains(msg, "minlength"):
		return "range"
	case strings.Contains(msg, "got "), strings.Contains(msg, "want "):
		return "type"
	default:
		return "validation"
	}
}
