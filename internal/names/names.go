// Package names implements the canonical-name dictionary: a persistent map
// from the spellings found in raw data to their canonical form.
//
// The dictionary file is CSV. The first field of a row is the canonical name
// (several canonicals are joined with "|", and "<delete>" marks aliases whose
// values must be discarded); every field of the row, the first included, is an
// alias of it. Unknown names are registered as their own canonical so that
// the next save lists them for review.
package names

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/record"
)

const (
	// DeleteMarker as canonical name means "discard this value".
	DeleteMarker = "<delete>"
	// Separator joins several canonical names in one field.
	Separator = "|"
	// BackupSuffix is appended to the dictionary path when the previous
	// file is rotated on save.
	BackupSuffix = ".old"
)

var (
	// ErrEmptyPath is returned when a dictionary is opened without a path.
	ErrEmptyPath = errors.New("dictionary path is empty")
	// ErrIsDirectory is returned when the dictionary path is a directory.
	ErrIsDirectory = errors.New("dictionary path is a directory")
	// ErrEmptyName is returned when an empty name is registered.
	ErrEmptyName = errors.New("name is empty")
)

// Names maps aliases to canonical names and remembers which aliases were
// looked up during the run.
type Names struct {
	mu       sync.Mutex
	path     string
	entries  map[string]string // alias -> canonical field
	used     map[string]bool
	added    []string
	prune    bool
	readOnly bool
	closed   bool
}

// Option configures a dictionary.
type Option func(*Names)

// WithPrune makes Close drop aliases that were never looked up.
func WithPrune(prune bool) Option {
	return func(n *Names) { n.prune = prune }
}

// WithReadOnly makes Close leave the file untouched.
func WithReadOnly(readOnly bool) Option {
	return func(n *Names) { n.readOnly = readOnly }
}

// Load reads the dictionary at path. A missing file yields an empty
// dictionary that will be created on save.
func Load(path string, opts ...Option) (*Names, error) {
	if path == "" {
		return nil, errhandling.NewConfigError("names", "cannot open dictionary", ErrEmptyPath)
	}
	n := &Names{
		path:    path,
		entries: make(map[string]string),
		used:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(n)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("dictionary not found, starting empty", slog.String("path", path))
		return n, nil
	case err != nil:
		return nil, errhandling.NewIOError("stat dictionary "+path, err)
	case info.IsDir():
		return nil, errhandling.NewConfigError("names", path, ErrIsDirectory)
	}

	f, err := os.Open(path) // #nosec G304 -- dictionary path comes from pipeline configuration
	if err != nil {
		return nil, errhandling.NewIOError("open dictionary "+path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("failed to close dictionary file", slog.String("path", path), slog.String("error", closeErr.Error()))
		}
	}()

	if err := n.read(f); err != nil {
		return nil, errhandling.NewIOError("read dictionary "+path, err)
	}

	logger.Debug("dictionary loaded", slog.String("path", path), slog.Int("aliases", len(n.entries)))
	return n, nil
}

func (n *Names) read(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		canonical := row[0]
		for _, alias := range row {
			n.entries[alias] = canonical
		}
	}
}

// Path returns the dictionary file path.
func (n *Names) Path() string { return n.path }

// Len returns the number of known aliases.
func (n *Names) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// Added returns the names registered during this run, in registration order.
func (n *Names) Added() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.added...)
}

// Unmapped returns the canonical names that no other alias points to, sorted.
// These are names registered as themselves and still awaiting review.
func (n *Names) Unmapped() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	aliases := make(map[string]int)
	for _, canonical := range n.entries {
		aliases[canonical]++
	}
	var out []string
	for alias, canonical := range n.entries {
		if alias == canonical && aliases[canonical] == 1 {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns the canonical names of alias and marks it used. found is
// false for unknown aliases. A deletion entry returns an empty, non-nil slice.
func (n *Names) Lookup(alias string) (canonicals []string, found bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lookup(alias)
}

func (n *Names) lookup(alias string) ([]string, bool) {
	n.used[alias] = true
	canonical, ok := n.entries[alias]
	if !ok {
		return nil, false
	}
	if canonical == DeleteMarker {
		return []string{}, true
	}
	return strings.Split(canonical, Separator), true
}

// Add registers name as its own canonical.
func (n *Names) Add(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.add(name)
	return nil
}

func (n *Names) add(name string) {
	if _, ok := n.entries[name]; ok {
		return
	}
	n.entries[name] = name
	n.added = append(n.added, name)
	logger.Info("name added", slog.String("dictionary", filepath.Base(n.path)), slog.String("name", name))
}

// Resolve maps alias to a cell: unknown aliases are registered and returned
// unchanged, deletion entries yield Unset, a single canonical yields a scalar
// and several canonicals yield a sequence.
func (n *Names) Resolve(alias string) record.Cell {
	n.mu.Lock()
	defer n.mu.Unlock()

	canonicals, found := n.lookup(alias)
	switch {
	case !found:
		if alias != "" {
			n.add(alias)
		}
		return record.Scalar(alias)
	case len(canonicals) == 0:
		return record.Unset
	case len(canonicals) == 1:
		return record.Scalar(canonicals[0])
	default:
		return record.Strings(canonicals...)
	}
}

// Rows returns the dictionary as it would be saved.
func (n *Names) Rows(prune bool) [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rows(prune)
}

func (n *Names) rows(prune bool) [][]string {
	groups := make(map[string][]string)
	for alias, canonical := range n.entries {
		if prune && !n.used[alias] {
			continue
		}
		groups[canonical] = append(groups[canonical], alias)
	}

	canonicals := make([]string, 0, len(groups))
	for c := range groups {
		canonicals = append(canonicals, c)
	}
	sort.Strings(canonicals)

	rows := make([][]string, 0, len(canonicals))
	for _, c := range canonicals {
		aliases := groups[c]
		sort.Strings(aliases)
		row := []string{c}
		seen := map[string]bool{c: true}
		for _, a := range aliases {
			if !seen[a] {
				seen[a] = true
				row = append(row, a)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Save writes the dictionary. The previous file, if any, is renamed to
// path + ".old" first. With prune, aliases never looked up are dropped.
func (n *Names) Save(prune bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.save(prune)
}

func (n *Names) save(prune bool) error {
	dir := filepath.Dir(n.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errhandling.NewIOError("create dictionary directory "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(n.path)+".tmp*")
	if err != nil {
		return errhandling.NewIOError("create temp dictionary", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(n.rows(prune)); err != nil {
		_ = tmp.Close()
		return errhandling.NewIOError("write dictionary "+n.path, err)
	}
	if err := tmp.Close(); err != nil {
		return errhandling.NewIOError("close temp dictionary", err)
	}

	if _, err := os.Stat(n.path); err == nil {
		if err := os.Rename(n.path, n.path+BackupSuffix); err != nil {
			return errhandling.NewIOError("rotate dictionary "+n.path, err)
		}
	}
	if err := os.Rename(tmpPath, n.path); err != nil {
		return errhandling.NewIOError("replace dictionary "+n.path, err)
	}

	logger.Info("dictionary saved",
		slog.String("path", n.path),
		slog.Bool("prune", prune),
		slog.Int("added", len(n.added)))
	return nil
}

// Close saves the dictionary once, honoring the prune option. Further calls
// are no-ops, so a dictionary shared by several transforms is written once.
func (n *Names) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.readOnly {
		logger.Debug("dictionary is read-only, not saving", slog.String("path", n.path))
		return nil
	}
	if err := n.save(n.prune); err != nil {
		return fmt.Errorf("save dictionary: %w", err)
	}
	return nil
}

// Abort discards the run's changes: the file is left as it was.
func (n *Names) Abort() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}
