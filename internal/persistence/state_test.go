package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/canectors/normalizer/pkg/connector"
)

func run(status string, delivered int) *connector.RunResult {
	start := time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)
	return &connector.RunResult{
		RunID:       "run-" + status,
		PipelineID:  "mobs",
		Status:      status,
		StartedAt:   start,
		CompletedAt: start.Add(time.Minute),
		Fetched:     delivered + 1,
		Delivered:   delivered,
		Skipped:     1,
	}
}

func TestNewStateStore_DefaultPath(t *testing.T) {
	if got := NewStateStore("").BasePath(); got != DefaultStatePath {
		t.Errorf("BasePath() = %q, want %q", got, DefaultStatePath)
	}
}

func TestStateStore_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStateStore(tmpDir)

	success := time.Date(2026, 1, 26, 10, 30, 0, 0, time.UTC)
	state := &State{LastRun: run("success", 4), LastSuccessAt: &success, Runs: 1}
	if err := store.Save("mobs", state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "mobs.json")); err != nil {
		t.Errorf("state file not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "mobs.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}

	loaded, err := store.Load("mobs")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.PipelineID != "mobs" {
		t.Errorf("PipelineID = %q", loaded.PipelineID)
	}
	if loaded.LastRun == nil || loaded.LastRun.Delivered != 4 {
		t.Errorf("LastRun = %+v", loaded.LastRun)
	}
	if loaded.LastSuccessAt == nil || !loaded.LastSuccessAt.Equal(success) {
		t.Errorf("LastSuccessAt = %v, want %v", loaded.LastSuccessAt, success)
	}
}

func TestStateStore_Load_NotFound(t *testing.T) {
	store := NewStateStore(t.TempDir())
	state, err := store.Load("never-ran")
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if state != nil {
		t.Errorf("Load of missing state = %+v, want nil", state)
	}
}

func TestStateStore_Load_Corrupt(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "mobs.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStateStore(tmpDir).Load("mobs"); err == nil {
		t.Error("Load of a corrupt file should fail")
	}
}

func TestStateStore_Record(t *testing.T) {
	store := NewStateStore(t.TempDir())

	if _, err := store.Record(run("success", 4)); err != nil {
		t.Fatalf("Record error = %v", err)
	}
	state, err := store.Record(run("error", 1))
	if err != nil {
		t.Fatalf("Record error = %v", err)
	}
	if state.Runs != 2 || state.Failures != 1 {
		t.Errorf("Runs/Failures = %d/%d, want 2/1", state.Runs, state.Failures)
	}
	if state.LastRun.Status != "error" {
		t.Errorf("LastRun.Status = %q, want error", state.LastRun.Status)
	}
	if state.LastSuccessAt == nil {
		t.Error("LastSuccessAt should survive a failed run")
	}

	dry := run("success", 9)
	dry.DryRun = true
	state, err = store.Record(dry)
	if err != nil {
		t.Fatalf("Record(dry) error = %v", err)
	}
	if state.Runs != 2 {
		t.Errorf("dry run was recorded: Runs = %d", state.Runs)
	}
}

func TestStateStore_InvalidInput(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Save("", &State{}); !errors.Is(err, ErrInvalidPipelineID) {
		t.Errorf("Save(\"\") error = %v", err)
	}
	if err := store.Save("mobs", nil); !errors.Is(err, ErrNilState) {
		t.Errorf("Save(nil) error = %v", err)
	}
	if _, err := store.Load(""); !errors.Is(err, ErrInvalidPipelineID) {
		t.Errorf("Load(\"\") error = %v", err)
	}
	if _, err := store.Record(nil); !errors.Is(err, ErrNilState) {
		t.Errorf("Record(nil) error = %v", err)
	}
	if _, err := store.Record(&connector.RunResult{}); !errors.Is(err, ErrInvalidPipelineID) {
		t.Errorf("Record(no id) error = %v", err)
	}
}

func TestStateStore_DeleteAndExists(t *testing.T) {
	store := NewStateStore(t.TempDir())

	exists, err := store.Exists("mobs")
	if err != nil || exists {
		t.Fatalf("Exists before save = %v, %v", exists, err)
	}
	if err := store.Save("mobs", &State{}); err != nil {
		t.Fatal(err)
	}
	if exists, _ := store.Exists("mobs"); !exists {
		t.Error("Exists after save = false")
	}
	if err := store.Delete("mobs"); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if err := store.Delete("mobs"); err != nil {
		t.Errorf("second Delete error = %v", err)
	}
	if exists, _ := store.Exists("mobs"); exists {
		t.Error("Exists after delete = true")
	}
}

func TestStateStore_PathTraversal(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStateStore(tmpDir)
	if err := store.Save("../../escape", &State{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "escape.json")); err != nil {
		t.Errorf("state should stay inside the base path: %v", err)
	}
}

func TestStateStore_ConcurrentRecord(t *testing.T) {
	store := NewStateStore(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Record(run("success", 1)); err != nil {
				t.Errorf("Record error = %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := store.Load("mobs")
	if err != nil {
		t.Fatal(err)
	}
	if state.Runs != 10 {
		t.Errorf("Runs = %d, want 10", state.Runs)
	}
}
