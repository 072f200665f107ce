// Package persistence keeps the run history of each pipeline on disk so the
// CLI can report the last run after the process exits.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/connector"
)

// DefaultStatePath is the default directory for state files.
const DefaultStatePath = "./normalizer-data/state"

// Common errors
var (
	// ErrInvalidPipelineID is returned when pipeline ID is empty.
	ErrInvalidPipelineID = errors.New("pipeline ID is required")

	// ErrNilState is returned when state is nil.
	ErrNilState = errors.New("state is nil")
)

// State is the persisted history of one pipeline.
type State struct {
	PipelineID string `json:"pipelineId"`

	// LastRun is the most recent run, whatever its status.
	LastRun *connector.RunResult `json:"lastRun,omitempty"`

	// LastSuccessAt is the completion time of the last successful run.
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`

	// Runs and Failures count recorded runs over the pipeline's lifetime.
	Runs     int `json:"runs"`
	Failures int `json:"failures"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// StateStore provides thread-safe persistence of pipeline state.
// State files are stored as JSON in the configured base path.
type StateStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewStateStore creates a new StateStore with the specified base path.
// If basePath is empty, DefaultStatePath is used.
func NewStateStore(basePath string) *StateStore {
	if basePath == "" {
		basePath = DefaultStatePath
	}
	return &StateStore{basePath: basePath}
}

// BasePath returns the state directory.
func (s *StateStore) BasePath() string { return s.basePath }

// filePath returns the full path for a pipeline's state file.
func (s *StateStore) filePath(pipelineID string) string {
	// Base() keeps IDs from escaping the state directory
	return filepath.Join(s.basePath, filepath.Base(pipelineID)+".json")
}

// Save persists the state for a pipeline with an atomic write.
func (s *StateStore) Save(pipelineID string, state *State) error {
	if pipelineID == "" {
		return ErrInvalidPipelineID
	}
	if state == nil {
		return ErrNilState
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(pipelineID, state)
}

func (s *StateStore) save(pipelineID string, state *State) error {
	if err := os.MkdirAll(s.basePath, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	state.PipelineID = pipelineID
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	filePath := s.filePath(pipelineID)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		logger.Warn("failed to rename state file",
			slog.String("pipeline_id", pipelineID),
			slog.String("path", filePath),
			slog.String("error", err.Error()))
		return fmt.Errorf("renaming state file: %w", err)
	}

	logger.Debug("state saved", slog.String("pipeline_id", pipelineID), slog.String("path", filePath))
	return nil
}

// Load retrieves the state for a pipeline.
// Returns nil, nil if the pipeline has never been recorded.
func (s *StateStore) Load(pipelineID string) (*State, error) {
	if pipelineID == "" {
		return nil, ErrInvalidPipelineID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(pipelineID)
}

func (s *StateStore) load(pipelineID string) (*State, error) {
	filePath := s.filePath(pipelineID)
	data, err := os.ReadFile(filePath) // #nosec G304 -- path is built from the state directory
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("no state file found", slog.String("pipeline_id", pipelineID), slog.String("path", filePath))
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state %s: %w", filePath, err)
	}
	return &state, nil
}

// Record folds a finished run into the pipeline's state and saves it.
// Dry runs are not recorded.
func (s *StateStore) Record(result *connector.RunResult) (*State, error) {
	if result == nil {
		return nil, ErrNilState
	}
	if result.PipelineID == "" {
		return nil, ErrInvalidPipelineID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(result.PipelineID)
	if err != nil {
		return nil, err
	}
	if result.DryRun {
		return state, nil
	}
	if state == nil {
		state = &State{}
	}

	state.LastRun = result
	state.Runs++
	if result.Status == connector.StatusSuccess {
		completed := result.CompletedAt
		state.LastSuccessAt = &completed
	} else {
		state.Failures++
	}
	state.UpdatedAt = time.Now()

	if err := s.save(result.PipelineID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Delete removes the state file for a pipeline.
// Returns nil if the file doesn't exist.
func (s *StateStore) Delete(pipelineID string) error {
	if pipelineID == "" {
		return ErrInvalidPipelineID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(pipelineID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting state file: %w", err)
	}
	return nil
}

// Exists checks if a state file exists for a pipeline.
func (s *StateStore) Exists(pipelineID string) (bool, error) {
	if pipelineID == "" {
		return false, ErrInvalidPipelineID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.filePath(pipelineID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking state file: %w", err)
	}
	return true, nil
}
