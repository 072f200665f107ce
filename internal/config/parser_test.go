package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseYAMLFile_Valid(t *testing.T) {
	result := ParseYAMLFile("testdata/valid-pipeline.yaml")

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if result.Format != FormatYAML {
		t.Errorf("expected format 'yaml', got '%s'", result.Format)
	}
	if result.FilePath != "testdata/valid-pipeline.yaml" {
		t.Errorf("unexpected file path %q", result.FilePath)
	}

	pipeline, ok := result.Data["pipeline"].(map[string]interface{})
	if !ok {
		t.Fatal("expected pipeline to be a map")
	}
	// YAML integers come back as JSON numbers
	dry := pipeline["dryRunOptions"].(map[string]interface{})
	if _, ok := dry["previewRecords"].(float64); !ok {
		t.Errorf("expected float64 previewRecords, got %T", dry["previewRecords"])
	}
}

func TestParseJSONFile_SyntaxError(t *testing.T) {
	result := ParseJSONFile("testdata/invalid-syntax.json")

	if result.IsValid() {
		t.Fatal("expected syntax error")
	}
	pe := result.Errors[0]
	if pe.Type != ErrorTypeSyntax {
		t.Errorf("expected syntax error type, got %s", pe.Type)
	}
	if pe.Line != 5 {
		t.Errorf("expected error on line 5, got %d", pe.Line)
	}
	if pe.Path != "testdata/invalid-syntax.json" {
		t.Errorf("expected file path in error, got %q", pe.Path)
	}
}

func TestParseJSONFile_Missing(t *testing.T) {
	result := ParseJSONFile(filepath.Join(t.TempDir(), "nope.json"))

	if result.IsValid() {
		t.Fatal("expected io error")
	}
	if result.Errors[0].Type != ErrorTypeIO {
		t.Errorf("expected io error type, got %s", result.Errors[0].Type)
	}
}

func TestParseJSONString_NotAnObject(t *testing.T) {
	result := ParseJSONString(`[1, 2]`)

	if result.IsValid() {
		t.Fatal("expected format error for array document")
	}
	if result.Errors[0].Type != ErrorTypeFormat {
		t.Errorf("expected format error, got %s", result.Errors[0].Type)
	}
}

func TestParseYAMLString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "   \n"},
		{"unclosed flow", "pipeline: [a, b\n"},
		{"scalar document", "just a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ParseYAMLString(tt.content).IsValid() {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseYAMLString_LineNumber(t *testing.T) {
	result := ParseYAMLString("a: 1\nb: [1, 2\nc: 3\n")
	if result.IsValid() {
		t.Fatal("expected parse error")
	}
	if result.Errors[0].Line == 0 {
		t.Errorf("expected line number in %v", result.Errors[0])
	}
}

func TestParseConfig_DetectsFormat(t *testing.T) {
	for _, path := range []string{"testdata/valid-pipeline.yaml", "testdata/valid-pipeline.json"} {
		t.Run(path, func(t *testing.T) {
			result := ParseConfig(path)
			if !result.IsValid() {
				t.Fatalf("expected valid config, got %v", result.AllErrors())
			}
		})
	}
}

func TestParseConfig_UnknownExtension(t *testing.T) {
	content, err := os.ReadFile("testdata/valid-pipeline.json")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "pipeline.conf")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	result := ParseConfig(path)
	if !result.IsValid() {
		t.Fatalf("expected valid config, got %v", result.AllErrors())
	}
	if result.Format != FormatJSON {
		t.Errorf("expected json detected from content, got %q", result.Format)
	}
	if result.FilePath != path {
		t.Errorf("expected file path %q, got %q", path, result.FilePath)
	}
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	result := ParseConfig("testdata/invalid-schema.yaml")

	if len(result.ParseErrors) != 0 {
		t.Fatalf("unexpected parse errors: %v", result.ParseErrors)
	}
	if len(result.ValidationErrors) == 0 {
		t.Fatal("expected validation errors")
	}
	for _, e := range result.ValidationErrors {
		if !strings.HasPrefix(e.Path, "/pipeline") {
			t.Errorf("expected error under /pipeline, got %q", e.Path)
		}
	}
}

func TestParseConfigString_UnsupportedFormat(t *testing.T) {
	result := ParseConfigString("a = 1", "toml")
	if result.IsValid() {
		t.Fatal("expected unsupported format error")
	}
	if !strings.Contains(result.ParseErrors[0].Message, "unsupported format") {
		t.Errorf("unexpected message %q", result.ParseErrors[0].Message)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]string{
		"a.json":       FormatJSON,
		"a.JSON":       FormatJSON,
		"dir/b.yaml":   FormatYAML,
		"b.yml":        FormatYAML,
		"c.toml":       "",
		"no-extension": "",
	}
	for path, want := range tests {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseError_Error(t *testing.T) {
	e := ParseError{Path: "p.json", Line: 3, Column: 7, Message: "boom"}
	if got := e.Error(); got != "p.json: line 3, column 7: boom" {
		t.Errorf("unexpected error string %q", got)
	}
	if got := (ParseError{Message: "boom"}).Error(); got != "boom" {
		t.Errorf("unexpected error string %q", got)
	}
}
