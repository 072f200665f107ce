// Package pathutil validates and resolves the file paths named in pipeline
// configuration (sources, sinks, dictionaries, scripts).
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths, paths with NUL bytes and paths with a
// ".." segment. Segments are checked before cleaning, so "scripts/../x" is
// rejected even though it cleans to "x".
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("file path contains invalid characters")
	}
	for _, segment := range strings.Split(filepath.ToSlash(filePath), "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// Resolve makes p relative to baseDir unless it is absolute or baseDir is empty.
func Resolve(baseDir, p string) string {
	if p == "" || baseDir == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}
