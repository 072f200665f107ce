package names

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/pkg/record"
)

func writeDict(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestLoad_Errors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := Load("")
		var cfgErr *errhandling.ConfigError
		if !errors.As(err, &cfgErr) || !errors.Is(err, ErrEmptyPath) {
			t.Fatalf("Load(\"\") error = %v, want ConfigError wrapping ErrEmptyPath", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := Load(t.TempDir())
		if !errors.Is(err, ErrIsDirectory) {
			t.Fatalf("Load(dir) error = %v, want ErrIsDirectory", err)
		}
	})

	t.Run("missing file is empty", func(t *testing.T) {
		n, err := Load(filepath.Join(t.TempDir(), "none.csv"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if n.Len() != 0 {
			t.Errorf("Len() = %d, want 0", n.Len())
		}
	})
}

func TestLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.csv")
	writeDict(t, path, "草原,そうげん,草原地帯\n<delete>,なし\n洞窟|地下,地下洞窟\n,ignored\n")

	n, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		alias string
		want  []string
		found bool
	}{
		{"そうげん", []string{"草原"}, true},
		{"草原", []string{"草原"}, true},
		{"なし", []string{}, true},
		{"地下洞窟", []string{"洞窟", "地下"}, true},
		{"ignored", nil, false},
		{"未知", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			got, found := n.Lookup(tt.alias)
			if found != tt.found {
				t.Fatalf("Lookup(%q) found = %v, want %v", tt.alias, found, tt.found)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Lookup(%q) = %#v, want %#v", tt.alias, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.csv")
	writeDict(t, path, "草原,そうげん\n<delete>,なし\n洞窟|地下,地下洞窟\n")
	n, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := n.Resolve("そうげん"); !got.Equal(record.Scalar("草原")) {
		t.Errorf("Resolve(alias) = %v, want scalar 草原", got)
	}
	if got := n.Resolve("なし"); !got.IsUnset() {
		t.Errorf("Resolve(deleted) = %v, want unset", got)
	}
	if got := n.Resolve("地下洞窟"); !got.Equal(record.Strings("洞窟", "地下")) {
		t.Errorf("Resolve(multi) = %v, want sequence", got)
	}

	got := n.Resolve("砂漠")
	if !got.Equal(record.Scalar("砂漠")) {
		t.Errorf("Resolve(unknown) = %v, want identity", got)
	}
	if canon, found := n.Lookup("砂漠"); !found || canon[0] != "砂漠" {
		t.Errorf("unknown alias should be registered as identity, got %v %v", canon, found)
	}
	if added := n.Added(); len(added) != 1 || added[0] != "砂漠" {
		t.Errorf("Added() = %v, want [砂漠]", added)
	}
}

func TestUnmapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.csv")
	writeDict(t, path, "草原,そうげん\n洞窟\n<delete>,なし\n")
	n, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	n.Resolve("砂漠")

	want := []string{"洞窟", "砂漠"}
	if got := n.Unmapped(); !reflect.DeepEqual(got, want) {
		t.Errorf("Unmapped() = %v, want %v", got, want)
	}
}

func TestSave_SortedAndRotated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.csv")
	writeDict(t, path, "草原,草原地帯,そうげん\n")
	n, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := n.Add("洞窟"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := n.Add(""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Add(\"\") error = %v, want ErrEmptyName", err)
	}

	if err := n.Save(false); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	want := [][]string{{"洞窟"}, {"草原", "そうげん", "草原地帯"}}
	if got := readRows(t, path); !reflect.DeepEqual(got, want) {
		t.Errorf("saved rows = %v, want %v", got, want)
	}
	old := readRows(t, path+BackupSuffix)
	if !reflect.DeepEqual(old, [][]string{{"草原", "草原地帯", "そうげん"}}) {
		t.Errorf("backup rows = %v, want the previous file", old)
	}
}

func TestSave_Prune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.csv")
	writeDict(t, path, "草原,そうげん,草原地帯\n洞窟,どうくつ\n")
	n, err := Load(path, WithPrune(true))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	n.Resolve("そうげん")
	n.Resolve("砂漠")

	if err := n.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := [][]string{{"砂漠"}, {"草原", "そうげん"}}
	if got := readRows(t, path); !reflect.DeepEqual(got, want) {
		t.Errorf("pruned rows = %v, want %v", got, want)
	}

	// Close is idempotent: a second call must not rotate again.
	if err := os.Remove(path + BackupSuffix); err != nil {
		t.Fatalf("remove backup: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := os.Stat(path + BackupSuffix); !os.IsNotExist(err) {
		t.Error("second Close() should not save again")
	}
}

func TestClose_ReadOnlyAndAbort(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "ro.csv")
	writeDict(t, path, "a,b\n")
	ro, err := Load(path, WithReadOnly(true))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ro.Resolve("new")
	if err := ro.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(path + BackupSuffix); !os.IsNotExist(err) {
		t.Error("read-only dictionary should not be saved")
	}

	aborted, err := Load(filepath.Join(dir, "ab.csv"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	aborted.Resolve("x")
	_ = aborted.Abort()
	if err := aborted.Close(); err != nil {
		t.Fatalf("Close() after Abort() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ab.csv")); !os.IsNotExist(err) {
		t.Error("aborted dictionary should not be written")
	}
}

func TestSet(t *testing.T) {
	dir := t.TempDir()
	writeDict(t, PathFor(dir, "fields"), "草原,そうげん\n")

	s, err := LoadSet(dir, []record.Column{"fields", "items", "fields"})
	if err != nil {
		t.Fatalf("LoadSet() error = %v", err)
	}
	if cols := s.Columns(); len(cols) != 2 {
		t.Errorf("Columns() = %v, want 2 unique columns", cols)
	}
	if s.For("fields") == nil || s.For("items") == nil {
		t.Fatal("For() should return loaded dictionaries")
	}
	if s.For("family") != nil {
		t.Error("For() of an unconfigured column should be nil")
	}

	s.For("items").Resolve("薬草")
	s.For("fields").Resolve("草原")
	if got := s.AddedCount(); got != 1 {
		t.Errorf("AddedCount() = %d, want 1", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := readRows(t, PathFor(dir, "items")); !reflect.DeepEqual(got, [][]string{{"薬草"}}) {
		t.Errorf("items rows = %v", got)
	}

	if _, err := LoadSet("", nil); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("LoadSet(\"\") error = %v, want ErrEmptyPath", err)
	}
}
