package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// StdinPath makes a CSV source read standard input.
const StdinPath = "-"

// CSVConfig holds configuration for the CSV source.
type CSVConfig struct {
	// Path of the file to read. Files ending in ".gz" are decompressed.
	Path string `json:"path"`
	// Columns maps fields to columns by position. When empty, the header
	// row provides the column names.
	Columns []string `json:"columns,omitempty"`
	// NoHeader disables skipping the first row.
	NoHeader bool `json:"noHeader,omitempty"`
	// Delimiter is the field separator (default ",").
	Delimiter string `json:"delimiter,omitempty"`
}

// CSVSource reads one record per CSV row.
type CSVSource struct {
	config  CSVConfig
	columns []record.Column

	file   io.ReadCloser
	gz     *gzip.Reader
	reader *csv.Reader
	line   int
	done   bool
}

// NewCSVFromConfig creates a CSV source. The file is opened on the first
// Process call.
func NewCSVFromConfig(config CSVConfig) (*CSVSource, error) {
	if config.Path == "" {
		return nil, errhandling.NewConfigError("csv source", "invalid configuration", ErrMissingPath)
	}
	if config.Path != StdinPath {
		info, err := os.Stat(config.Path)
		if err != nil {
			return nil, errhandling.NewConfigError("csv source", "cannot access "+config.Path, err)
		}
		if info.IsDir() {
			return nil, errhandling.NewConfigError("csv source", config.Path+" is a directory", nil)
		}
	}
	if config.NoHeader && len(config.Columns) == 0 {
		return nil, errhandling.NewConfigError("csv source", "'columns' is required when 'noHeader' is set", nil)
	}
	if len([]rune(config.Delimiter)) > 1 {
		return nil, errhandling.NewConfigError("csv source", fmt.Sprintf("delimiter %q must be a single character", config.Delimiter), nil)
	}

	s := &CSVSource{config: config}
	for _, c := range config.Columns {
		s.columns = append(s.columns, record.Column(c))
	}

	logger.Debug("csv source created",
		slog.String("path", config.Path),
		slog.Int("columns", len(s.columns)),
		slog.Bool("gzip", isGzip(config.Path)))

	return s, nil
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
		return config, ErrMissingPath
	}
	return config, nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

func (s *CSVSource) open() error {
	var f io.ReadCloser = os.Stdin
	if s.config.Path != StdinPath {
		file, err := os.Open(s.config.Path)
		if err != nil {
			return errhandling.NewIOError("opening "+s.config.Path, err)
		}
		f = file
	}
	s.file = f

	var r io.Reader = f
	if isGzip(s.config.Path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = s.release()
			return errhandling.NewIOError("reading gzip header of "+s.config.Path, err)
		}
		s.gz = gz
		r = gz
	}

	s.reader = csv.NewReader(r)
	s.reader.FieldsPerRecord = -1
	s.reader.LazyQuotes = true
	if s.config.Delimiter != "" {
		s.reader.Comma = []rune(s.config.Delimiter)[0]
	}

	if s.config.NoHeader {
		return nil
	}
	header, err := s.read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(s.columns) == 0 {
		for _, h := range header {
			s.columns = append(s.columns, record.Column(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))))
		}
	}
	return nil
}

func (s *CSVSource) read() ([]string, error) {
	fields, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errhandling.NewIOError(fmt.Sprintf("reading %s line %d", s.config.Path, s.line+1), err)
	}
	s.line++
	return fields, nil
}

// Process returns the next row as a record.
func (s *CSVSource) Process(_ record.Record) (filter.Result, error) {
	if s.done {
		return filter.Absent(), nil
	}
	if s.reader == nil {
		if err := s.open(); err != nil {
			s.done = true
			return filter.Result{}, err
		}
	}

	fields, err := s.read()
	if errors.Is(err, io.EOF) {
		s.done = true
		logger.Debug("csv source exhausted", slog.String("path", s.config.Path), slog.Int("lines", s.line))
		return filter.Absent(), s.release()
	}
	if err != nil {
		return filter.Result{}, err
	}

	rec := make(record.Record, len(s.columns))
	for i, v := range fields {
		if i >= len(s.columns) {
			if strings.TrimSpace(v) != "" {
				logger.Warn("csv field without column ignored",
					slog.String("path", s.config.Path),
					slog.Int("line", s.line),
					slog.Int("field", i+1))
			}
			continue
		}
		if v != "" {
			rec[s.columns[i]] = record.Scalar(v)
		}
	}
	if len(rec) == 0 {
		return filter.Skip(fmt.Sprintf("blank row at %s line %d", s.config.Path, s.line)), nil
	}
	return filter.Continue(rec), nil
}

// Columns returns the column names in file order. It is empty until the
// header has been read.
func (s *CSVSource) Columns() []record.Column {
	return append([]record.Column(nil), s.columns...)
}

func (s *CSVSource) release() error {
	var errs []error
	if s.gz != nil {
		errs = append(errs, s.gz.Close())
		s.gz = nil
	}
	if s.file != nil && s.file != os.Stdin {
		errs = append(errs, s.file.Close())
	}
	s.file = nil
	return errors.Join(errs...)
}

// Close releases the file.
func (s *CSVSource) Close() error {
	s.done = true
	return s.release()
}

// Abort releases the file.
func (s *CSVSource) Abort() error {
	return s.Close()
}

var (
	_ Source         = (*CSVSource)(nil)
	_ filter.Aborter = (*CSVSource)(nil)
)
