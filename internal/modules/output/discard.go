package output

import (
	"encoding/json"
	"log/slog"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/pkg/record"
)

// DefaultPreviewRecords is how many records a dry run prints.
const DefaultPreviewRecords = 5

// DiscardSink counts records without persisting them. It replaces the
// configured sink in dry runs and logs the first records as a preview.
type DiscardSink struct {
	preview int
	count   int
}

// NewDiscard creates a discarding sink that previews up to preview records.
func NewDiscard(preview int) *DiscardSink {
	if preview < 0 {
		preview = 0
	}
	return &DiscardSink{preview: preview}
}

// Process counts rec and passes it through.
func (s *DiscardSink) Process(rec record.Record) (filter.Result, error) {
	s.count++
	if s.count <= s.preview {
		body, err := json.Marshal(exportRecord(rec))
		if err != nil {
			body = []byte(err.Error())
		}
		logger.Info("dry-run record", slog.Int("record_index", s.count), slog.String("record", string(body)))
	}
	return filter.Continue(rec), nil
}

// Count returns the number of records received.
func (s *DiscardSink) Count() int { return s.count }

var _ Sink = (*DiscardSink)(nil)
