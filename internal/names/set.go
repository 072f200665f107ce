package names

import (
	"errors"
	"path/filepath"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/pkg/record"
)

// FileExt is the extension of per-column dictionary files.
const FileExt = ".csv"

// Set holds one dictionary per column, stored as <dir>/<column>.csv.
type Set struct {
	dir      string
	order    []record.Column
	byColumn map[record.Column]*Names
}

// LoadSet loads the dictionaries of the given columns from dir.
func LoadSet(dir string, columns []record.Column, opts ...Option) (*Set, error) {
	if dir == "" {
		return nil, errhandling.NewConfigError("names", "cannot open dictionary directory", ErrEmptyPath)
	}
	s := &Set{dir: dir, byColumn: make(map[record.Column]*Names, len(columns))}
	for _, col := range columns {
		if _, dup := s.byColumn[col]; dup {
			continue
		}
		n, err := Load(PathFor(dir, col), opts...)
		if err != nil {
			return nil, err
		}
		s.byColumn[col] = n
		s.order = append(s.order, col)
	}
	return s, nil
}

// PathFor returns the dictionary file of col inside dir.
func PathFor(dir string, col record.Column) string {
	return filepath.Join(dir, string(col)+FileExt)
}

// Dir returns the dictionary directory.
func (s *Set) Dir() string { return s.dir }

// Columns returns the columns that have a dictionary, in load order.
func (s *Set) Columns() []record.Column {
	return append([]record.Column(nil), s.order...)
}

// For returns the dictionary of col, or nil when the column has none.
func (s *Set) For(col record.Column) *Names {
	if s == nil {
		return nil
	}
	return s.byColumn[col]
}

// AddedCount returns the number of names registered during this run across
// every dictionary.
func (s *Set) AddedCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, col := range s.order {
		n += len(s.byColumn[col].Added())
	}
	return n
}

// Close saves every dictionary. All are attempted; failures are joined.
func (s *Set) Close() error {
	var errs []error
	for _, col := range s.order {
		if err := s.byColumn[col].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Abort discards every dictionary's changes.
func (s *Set) Abort() error {
	for _, col := range s.order {
		_ = s.byColumn[col].Abort()
	}
	return nil
}
