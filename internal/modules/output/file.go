package output

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// Supported file formats.
const (
	FormatJSONL   = "jsonl"
	FormatMsgpack = "msgpack"
)

// FileConfig holds configuration for the structured file sink.
type FileConfig struct {
	Path string `json:"path"`
	// Format is "jsonl" (default) or "msgpack".
	Format string `json:"format,omitempty"`
}

// FileSink writes records as a stream of objects: one JSON document per line
// or consecutive MessagePack maps. Sequences become arrays and ranges become
// {"min", "max"} objects, so no information is flattened as in CSV.
type FileSink struct {
	config  FileConfig
	target  *stagedFile
	encode  func(map[string]any) error
	written int
	closed  bool
}

// NewFileFromConfig creates a file sink.
func NewFileFromConfig(config FileConfig) (*FileSink, error) {
	if config.Path == "" {
		return nil, errhandling.NewConfigError("file sink", "'path' is required", nil)
	}
	if config.Format == "" {
		config.Format = FormatJSONL
	}
	if config.Format != FormatJSONL && config.Format != FormatMsgpack {
		return nil, errhandling.NewConfigError("file sink",
			fmt.Sprintf("unknown format %q (want %s or %s)", config.Format, FormatJSONL, FormatMsgpack), nil)
	}
	return &FileSink{config: config}, nil
}

// ParseFileConfig parses a raw configuration map into FileConfig.
func ParseFileConfig(cfg map[string]interface{}) FileConfig {
	var config FileConfig
	if v, ok := cfg["path"].(string); ok {
		config.Path = v
	}
	if v, ok := cfg["format"].(string); ok {
		config.Format = v
	}
	return config
}

func (s *FileSink) open() error {
	target, err := stage(s.config.Path)
	if err != nil {
		return errhandling.NewIOError("opening "+s.config.Path, err)
	}
	s.target = target

	switch s.config.Format {
	case FormatMsgpack:
		enc := msgpack.NewEncoder(target.w)
		enc.SetSortMapKeys(true)
		s.encode = func(m map[string]any) error { return enc.Encode(m) }
	default:
		enc := json.NewEncoder(target.w)
		enc.SetEscapeHTML(false)
		s.encode = func(m map[string]any) error { return enc.Encode(m) }
	}
	return nil
}

// Process encodes rec and passes it through.
func (s *FileSink) Process(rec record.Record) (filter.Result, error) {
	if s.closed {
		return filter.Result{}, ErrClosed
	}
	if s.target == nil {
		if err := s.open(); err != nil {
			return filter.Result{}, err
		}
	}
	if err := s.encode(exportRecord(rec)); err != nil {
		return filter.Result{}, errhandling.NewIOError("encoding record for "+s.config.Path, err)
	}
	s.written++
	return filter.Continue(rec), nil
}

// Close moves the file into place.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.target == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	if err := s.target.commit(); err != nil {
		return err
	}
	logger.Info("file output saved",
		slog.String("path", s.config.Path),
		slog.String("format", s.config.Format),
		slog.Int("records", s.written))
	return nil
}

// Abort drops the staged file.
func (s *FileSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.target == nil {
		return nil
	}
	return s.target.discard()
}

var (
	_ Sink           = (*FileSink)(nil)
	_ filter.Aborter = (*FileSink)(nil)
)
