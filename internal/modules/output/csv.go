package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// StdoutPath makes a file sink write to standard output.
const StdoutPath = "-"

// CSVConfig holds configuration for the CSV sink.
type CSVConfig struct {
	// Path of the output file. A ".gz" suffix compresses the output.
	Path string `json:"path"`
	// Columns fixes the header and field order. When empty, the columns of
	// the first record are used, sorted.
	Columns []string `json:"columns,omitempty"`
	// NoHeader disables the header row.
	NoHeader bool `json:"noHeader,omitempty"`
	// Delimiter is the field separator (default ",").
	Delimiter string `json:"delimiter,omitempty"`
}

// CSVSink writes one row per record. Sequences are joined with newlines and
// ranges are rendered "min~max".
//
// Rows go to a temporary file next to Path, which replaces Path on Close.
// Abort removes it, leaving any previous output untouched. A run that fails
// part way therefore writes none of its rows, including those already
// delivered; the output only ever holds a complete run.
type CSVSink struct {
	config  CSVConfig
	columns []record.Column
	known   map[record.Column]bool
	warned  map[record.Column]bool

	target  *stagedFile
	writer  *csv.Writer
	written int
	closed  bool
}

// NewCSVFromConfig creates a CSV sink.
func NewCSVFromConfig(config CSVConfig) (*CSVSink, error) {
	if config.Path == "" {
		return nil, errhandling.NewConfigError("csv sink", "'path' is required", nil)
	}
	if len([]rune(config.Delimiter)) > 1 {
		return nil, errhandling.NewConfigError("csv sink", fmt.Sprintf("delimiter %q must be a single character", config.Delimiter), nil)
	}
	return &CSVSink{config: config, warned: make(map[record.Column]bool)}, nil
}

// ParseCSVConfig parses a raw configuration map into CSVConfig.
func ParseCSVConfig(cfg map[string]interface{}) (CSVConfig, error) {
	var config CSVConfig
	if v, ok := cfg["path"].(string); ok {
		config.Path = v
	}
	if v, ok := cfg["noHeader"].(bool); ok {
		config.NoHeader = v
	}
	if v, ok := cfg["delimiter"].(string); ok {
		config.Delimiter = v
	}
	if raw, ok := cfg["columns"].([]interface{}); ok {
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return config, fmt.Errorf("'columns' must contain strings, got %T", item)
			}
			config.Columns = append(config.Columns, s)
		}
	}
	if config.Path == "" {
		return config, errors.New("'path' is required")
	}
	return config, nil
}

func (s *CSVSink) open(first record.Record) error {
	target, err := stage(s.config.Path)
	if err != nil {
		return err
	}
	s.target = target
	s.writer = csv.NewWriter(target.w)
	if s.config.Delimiter != "" {
		s.writer.Comma = []rune(s.config.Delimiter)[0]
	}

	s.columns = headerColumns(s.config.Columns, first)
	s.known = make(map[record.Column]bool, len(s.columns))
	for _, c := range s.columns {
		s.known[c] = true
	}
	if s.config.NoHeader {
		return nil
	}
	header := make([]string, len(s.columns))
	for i, c := range s.columns {
		header[i] = string(c)
	}
	return s.writer.Write(header)
}

// Process writes rec and passes it through.
func (s *CSVSink) Process(rec record.Record) (filter.Result, error) {
	if s.closed {
		return filter.Result{}, ErrClosed
	}
	if s.writer == nil {
		if err := s.open(rec); err != nil {
			return filter.Result{}, errhandling.NewIOError("opening "+s.config.Path, err)
		}
	}

	for col := range rec {
		if !s.known[col] && !s.warned[col] {
			s.warned[col] = true
			logger.Warn("column not written by csv sink", slog.String("column", string(col)), slog.String("path", s.config.Path))
		}
	}

	row := make([]string, len(s.columns))
	for i, col := range s.columns {
		row[i] = rec.Get(col).String()
	}
	if err := s.writer.Write(row); err != nil {
		return filter.Result{}, errhandling.NewIOError("writing "+s.config.Path, err)
	}
	s.written++
	return filter.Continue(rec), nil
}

// Written returns the number of rows written, header excluded.
func (s *CSVSink) Written() int { return s.written }

// Close flushes the rows and moves the file into place. A sink that never
// saw a record still produces a header-only file when columns are configured.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	if s.writer == nil && len(s.config.Columns) > 0 {
		if err := s.open(record.Record{}); err != nil {
			s.closed = true
			return errhandling.NewIOError("opening "+s.config.Path, err)
		}
	}
	s.closed = true
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		_ = s.target.discard()
		return errhandling.NewIOError("flushing "+s.config.Path, err)
	}
	if err := s.target.commit(); err != nil {
		return err
	}
	logger.Info("csv output saved", slog.String("path", s.config.Path), slog.Int("rows", s.written))
	return nil
}

// Abort drops the staged file.
func (s *CSVSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.target == nil {
		return nil
	}
	return s.target.discard()
}

// stagedFile is an output written under a temporary name and renamed into
// place on commit. Standard output is written directly.
type stagedFile struct {
	path string
	tmp  *os.File
	gz   *gzip.Writer
	w    io.Writer
}

func stage(path string) (*stagedFile, error) {
	if path == StdoutPath {
		return &stagedFile{path: path, w: os.Stdout}, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	f := &stagedFile{path: path, tmp: tmp, w: tmp}
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		f.gz = gzip.NewWriter(tmp)
		f.w = f.gz
	}
	return f, nil
}

func (f *stagedFile) commit() error {
	if f.tmp == nil {
		return nil
	}
	if f.gz != nil {
		if err := f.gz.Close(); err != nil {
			_ = f.discard()
			return errhandling.NewIOError("compressing "+f.path, err)
		}
	}
	if err := f.tmp.Close(); err != nil {
		_ = os.Remove(f.tmp.Name())
		return errhandling.NewIOError("closing "+f.path, err)
	}
	if err := os.Rename(f.tmp.Name(), f.path); err != nil {
		_ = os.Remove(f.tmp.Name())
		return errhandling.NewIOError("renaming output to "+f.path, err)
	}
	f.tmp = nil
	return nil
}

func (f *stagedFile) discard() error {
	if f.tmp == nil {
		return nil
	}
	name := f.tmp.Name()
	_ = f.tmp.Close()
	f.tmp = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var (
	_ Sink           = (*CSVSink)(nil)
	_ filter.Aborter = (*CSVSink)(nil)
)
