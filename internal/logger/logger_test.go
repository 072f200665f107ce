package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/canectors/normalizer/internal/logger"
)

// capture redirects logger.Logger to a JSON buffer for the duration of the test.
func capture(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := logger.Logger
	t.Cleanup(func() { logger.Logger = original })
	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v (%q)", err, buf.String())
	}
	return entry
}

func TestLoggerInitialization(t *testing.T) {
	if logger.Logger == nil {
		t.Fatal("Logger should be initialized on package load")
	}
}

func TestWithRun(t *testing.T) {
	buf := capture(t, slog.LevelDebug)

	logger.WithRun(logger.RunContext{
		RunID:        "run-123",
		PipelineName: "monsters",
		Stage:        "step",
		ModuleType:   "number",
		Column:       "hp",
	}).Info("test log")

	entry := decode(t, buf)
	want := map[string]string{
		"run_id":        "run-123",
		"pipeline_name": "monsters",
		"stage":         "step",
		"module_type":   "number",
		"column":        "hp",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("Expected %s %q, got %v", k, v, entry[k])
		}
	}
	if _, ok := entry["dry_run"]; ok {
		t.Error("dry_run should be omitted when false")
	}
}

func TestLogRunEnd(t *testing.T) {
	tests := []struct {
		status  string
		wantMsg string
		level   string
	}{
		{"success", "run completed", "INFO"},
		{"error", "run failed", "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			buf := capture(t, slog.LevelInfo)
			logger.LogRunEnd(logger.RunContext{RunID: "r", DryRun: true}, tt.status, 4, 2*time.Second)

			entry := decode(t, buf)
			if entry["msg"] != tt.wantMsg {
				t.Errorf("Expected msg %q, got %v", tt.wantMsg, entry["msg"])
			}
			if entry["level"] != tt.level {
				t.Errorf("Expected level %q, got %v", tt.level, entry["level"])
			}
			if v, ok := entry["records_delivered"].(float64); !ok || v != 4 {
				t.Errorf("Expected records_delivered 4, got %v", entry["records_delivered"])
			}
			if entry["dry_run"] != true {
				t.Errorf("Expected dry_run true, got %v", entry["dry_run"])
			}
		})
	}
}

func TestLogSkip(t *testing.T) {
	buf := capture(t, slog.LevelInfo)
	logger.LogSkip(logger.RunContext{RunID: "r"}, 3, "name \"Slime\" is blocked")

	entry := decode(t, buf)
	if entry["msg"] != "record skipped" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if v, _ := entry["record_index"].(float64); v != 3 {
		t.Errorf("Expected record_index 3, got %v", entry["record_index"])
	}
}

func TestLogError_Chain(t *testing.T) {
	buf := capture(t, slog.LevelInfo)
	inner := errors.New("disk full")
	logger.LogError("sink failed", logger.ErrorContext{
		RunID:         "r",
		Stage:         "sink",
		ErrorCategory: "io",
		Err:           fmt.Errorf("writing row: %w", inner),
		RecordIndex:   7,
		Extra:         map[string]interface{}{"path": "out.csv"},
	})

	entry := decode(t, buf)
	if entry["error_chain"] != "writing row: disk full -> disk full" {
		t.Errorf("unexpected error_chain %v", entry["error_chain"])
	}
	if entry["path"] != "out.csv" {
		t.Errorf("Expected extra field path, got %v", entry["path"])
	}
	if v, _ := entry["record_index"].(float64); v != 7 {
		t.Errorf("Expected record_index 7, got %v", entry["record_index"])
	}
}

func TestLogMetrics(t *testing.T) {
	buf := capture(t, slog.LevelInfo)
	logger.LogMetrics(logger.RunContext{RunID: "r"}, logger.RunMetrics{
		Fetched: 5, Delivered: 4, Skipped: 1, Duration: time.Second, RecordsPerSecond: 4,
	})

	entry := decode(t, buf)
	for _, k := range []string{"records_fetched", "records_delivered", "records_skipped", "total_duration", "records_per_second"} {
		if _, ok := entry[k]; !ok {
			t.Errorf("missing field %s", k)
		}
	}
}

func TestFormatMetricsHuman(t *testing.T) {
	got := logger.FormatMetricsHuman(logger.RunMetrics{
		Fetched: 5, Delivered: 4, Skipped: 1, Duration: 1500 * time.Millisecond, NamesAdded: 2,
	})
	want := "Delivered 4 of 5 records in 1.50s, 1 skipped, 2 new names"
	if got != want {
		t.Errorf("FormatMetricsHuman() = %q, want %q", got, want)
	}
}

func TestHumanHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{Level: slog.LevelInfo, MaxInline: 2}))

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line should be filtered, got %q", buf.String())
	}

	l.With("run_id", "r1").Info("run completed", "records", 3, "note", "two words")
	line := buf.String()
	if !strings.Contains(line, "✓ run completed run_id=r1 records=3 (+1 more)") {
		t.Errorf("unexpected human line %q", line)
	}

	buf.Reset()
	l.Warn("odd", "note", "two words")
	if !strings.Contains(buf.String(), `⚠ odd note="two words"`) {
		t.Errorf("unexpected human line %q", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]logger.OutputFormat{"": logger.FormatJSON, "JSON": logger.FormatJSON, "human": logger.FormatHuman} {
		got, err := logger.ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := logger.ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestSetLogFile(t *testing.T) {
	original := logger.Logger
	defer func() { logger.Logger = original }()

	path := filepath.Join(t.TempDir(), "run.log")
	if err := logger.SetLogFile(path, slog.LevelInfo, logger.FormatJSON); err != nil {
		t.Fatalf("SetLogFile() error = %v", err)
	}
	logger.Info("to file", "k", "v")
	logger.CloseLogFile()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}
