package connector_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/canectors/normalizer/pkg/connector"
)

func TestPipelineJSONSerialization(t *testing.T) {
	pipeline := connector.Pipeline{
		ID:        "mobs",
		Name:      "Mob database",
		Version:   "1.0.0",
		Columns:   []string{"name", "fields"},
		KeyColumn: "name",
		Names:     &connector.NamesConfig{Dir: "names", Columns: []string{"fields"}, Prune: true},
		Sources: []connector.ModuleConfig{
			{Type: "csv", Config: map[string]interface{}{"path": "mobs.csv"}},
		},
		Steps: []connector.Step{
			{Filter: &connector.ModuleConfig{Type: "veto", Config: map[string]interface{}{"values": []interface{}{"x"}}}},
			{AllColumns: true, Transforms: []connector.ModuleConfig{{Type: "basic"}}},
			{Columns: []string{"fields"}, Transforms: []connector.ModuleConfig{{Type: "split"}, {Type: "names"}}},
		},
		Sink:    &connector.ModuleConfig{Type: "csv", Config: map[string]interface{}{"path": "out.csv"}},
		Enabled: true,
	}

	data, err := json.Marshal(pipeline)
	if err != nil {
		t.Fatalf("Failed to marshal pipeline to JSON: %v", err)
	}

	var decoded connector.Pipeline
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal pipeline from JSON: %v", err)
	}

	if decoded.ID != pipeline.ID {
		t.Errorf("ID mismatch: got %s, want %s", decoded.ID, pipeline.ID)
	}
	if len(decoded.Steps) != 3 {
		t.Fatalf("Steps length mismatch: got %d, want 3", len(decoded.Steps))
	}
	if decoded.Steps[0].Filter == nil || decoded.Steps[0].Filter.Type != "veto" {
		t.Errorf("first step should be the veto filter, got %+v", decoded.Steps[0])
	}
	if !decoded.Steps[1].AllColumns {
		t.Error("second step should apply to all columns")
	}
	if decoded.Names == nil || !decoded.Names.Prune {
		t.Errorf("Names mismatch: %+v", decoded.Names)
	}
}

func TestRunResultDuration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := connector.RunResult{StartedAt: start}
	if r.Duration() != 0 {
		t.Errorf("Duration() of unfinished run = %v, want 0", r.Duration())
	}
	r.CompletedAt = start.Add(1500 * time.Millisecond)
	if r.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration() = %v", r.Duration())
	}
}

func TestRunResultJSON(t *testing.T) {
	r := connector.RunResult{
		RunID:     "abc",
		Status:    "error",
		Delivered: 2,
		Error:     &connector.RunError{Category: "parse", Message: "bad number", RecordIndex: 3, Fatal: true},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	errObj, ok := m["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error field missing: %s", data)
	}
	if errObj["recordIndex"] != float64(3) {
		t.Errorf("recordIndex = %v", errObj["recordIndex"])
	}
	if _, ok := m["namesAdded"]; ok {
		t.Error("namesAdded should be omitted when zero")
	}
}
