package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSONFile parses a JSON configuration file.
func ParseJSONFile(filepath string) *ParseResult {
	return parseFile(filepath, FormatJSON)
}

// ParseYAMLFile parses a YAML configuration file.
func ParseYAMLFile(filepath string) *ParseResult {
	return parseFile(filepath, FormatYAML)
}

func parseFile(filepath, format string) *ParseResult {
	content, err := os.ReadFile(filepath) // #nosec G304 -- configuration path is given by the operator
	if err != nil {
		return &ParseResult{
			FilePath: filepath,
			Format:   format,
			Errors:   []ParseError{{Path: filepath, Message: fmt.Sprintf("failed to read file: %v", err), Type: ErrorTypeIO}},
		}
	}

	var result *ParseResult
	if format == FormatJSON {
		result = ParseJSONString(string(content))
	} else {
		result = ParseYAMLString(string(content))
	}
	result.FilePath = filepath
	for i := range result.Errors {
		if result.Errors[i].Path == "" {
			result.Errors[i].Path = filepath
		}
	}
	return result
}

// ParseJSONString parses JSON content. The document must be an object.
func ParseJSONString(content string) *ParseResult {
	result := &ParseResult{Format: FormatJSON}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{Message: "empty content: expected JSON object", Type: ErrorTypeSyntax})
		return result
	}

	var data interface{}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		result.Errors = append(result.Errors, jsonParseError(err, content))
		return result
	}
	return asDocument(result, data)
}

// ParseYAMLString parses YAML content. The document must be a mapping.
func ParseYAMLString(content string) *ParseResult {
	result := &ParseResult{Format: FormatYAML}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{Message: "empty content: expected YAML document", Type: ErrorTypeSyntax})
		return result
	}

	var data interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		result.Errors = append(result.Errors, yamlParseError(err))
		return result
	}
	if data == nil {
		return result
	}

	// Re-encode so YAML and JSON documents carry the same Go types
	// (float64 numbers, string-keyed maps).
	raw, err := json.Marshal(data)
	if err != nil {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid configuration: %v", err),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		result.Errors = append(result.Errors, ParseError{Message: err.Error(), Type: ErrorTypeFormat})
		return result
	}
	return asDocument(result, normalized)
}

// asDocument stores data in result when it is an object. A null document
// parses without error and is rejected by validation.
func asDocument(result *ParseResult, data interface{}) *ParseResult {
	if data == nil {
		return result
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid configuration: expected %s object, got %T", strings.ToUpper(result.Format), data),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	result.Data = m
	return result
}

func jsonParseError(err error, content string) ParseError {
	pe := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		pe.Offset = syntaxErr.Offset
		pe.Line, pe.Column = offsetToLineColumn(content, syntaxErr.Offset)
		pe.Message = "JSON syntax error: " + syntaxErr.Error()
	case errors.As(err, &typeErr):
		pe.Offset = typeErr.Offset
		pe.Line, pe.Column = offsetToLineColumn(content, typeErr.Offset)
		pe.Message = fmt.Sprintf("type error at field '%s': expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	return pe
}

func yamlParseError(err error) ParseError {
	pe := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		pe.Message = "YAML type error: " + strings.Join(typeErr.Errors, "; ")
	}
	// yaml.v3 reports "yaml: line N: ..."
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		pe.Line = line
	}
	return pe
}

// offsetToLineColumn converts a byte offset to 1-based line and column.
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

// ParseConfig parses and validates a configuration file. The format comes
// from the extension, or from the content when the extension is unknown.
func ParseConfig(filepath string) *Result {
	result := &Result{FilePath: filepath}

	var parsed *ParseResult
	switch DetectFormat(filepath) {
	case FormatJSON:
		parsed = ParseJSONFile(filepath)
	case FormatYAML:
		parsed = ParseYAMLFile(filepath)
	default:
		content, err := os.ReadFile(filepath) // #nosec G304 -- configuration path is given by the operator
		if err != nil {
			result.ParseErrors = append(result.ParseErrors, ParseError{
				Path: filepath, Message: fmt.Sprintf("failed to read file: %v", err), Type: ErrorTypeIO,
			})
			return result
		}
		sub := ParseConfigString(string(content), "")
		sub.FilePath = filepath
		return sub
	}

	return finish(result, parsed)
}

// ParseConfigString parses and validates configuration content. An empty
// format is detected from the content.
func ParseConfigString(content string, format string) *Result {
	result := &Result{Format: format}

	if format == "" {
		switch {
		case IsJSON(content):
			format = FormatJSON
		case IsYAML(content):
			format = FormatYAML
		default:
			result.ParseErrors = append(result.ParseErrors, ParseError{
				Message: "unable to detect configuration format: not valid JSON or YAML",
				Type:    ErrorTypeFormat,
			})
			return result
		}
	}

	var parsed *ParseResult
	switch format {
	case FormatJSON:
		parsed = ParseJSONString(content)
	case FormatYAML:
		parsed = ParseYAMLString(content)
	default:
		result.ParseErrors = append(result.ParseErrors, ParseError{
			Message: fmt.Sprintf("unsupported format: %s", format),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	return finish(result, parsed)
}

// finish copies the parse outcome into result and validates it when parsing
// succeeded.
func finish(result *Result, parsed *ParseResult) *Result {
	result.Data = parsed.Data
	result.ParseErrors = parsed.Errors
	result.Format = parsed.Format
	if !parsed.IsValid() {
		return result
	}
	result.ValidationErrors = ValidateConfig(parsed.Data).Errors
	return result
}

// DetectFormat detects the configuration format from the file extension.
// Returns "json", "yaml", or "" when the extension is not recognized.
func DetectFormat(filepath string) string {
	switch strings.ToLower(path.Ext(filepath)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// IsJSON reports whether content looks like a JSON document.
func IsJSON(content string) bool {
	content = strings.TrimSpace(content)
	return strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")
}

// IsYAML reports whether content parses as a non-empty YAML document.
// JSON is also YAML, so this returns true for JSON content.
func IsYAML(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	var data interface{}
	err := yaml.Unmarshal([]byte(content), &data)
	return err == nil && data != nil
}
