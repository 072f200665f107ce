package pathutil

import (
	"path/filepath"
	"testing"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"null byte", "a\x00b", true},
		{"simple segment", "..", true},
		{"leading segment", "../foo", true},
		{"middle segment", "names/../fields.csv", true},
		{"valid relative", "names/fields.csv", false},
		{"valid nested", "data/mobs/all.csv.gz", false},
		{"single segment", "script.js", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilePath(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	abs := filepath.Join(string(filepath.Separator), "data", "in.csv")
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{"relative", "configs", "in.csv", filepath.Join("configs", "in.csv")},
		{"absolute", "configs", abs, abs},
		{"no base", "", "in.csv", "in.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.base, tt.path); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
			}
		})
	}
}
