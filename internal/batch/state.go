package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State tracks progress through a directory of interviews so an
// interrupted run resumes where it stopped instead of re-querying the
// oracle for files already processed.
type State struct {
	StartedAt       time.Time `json:"started_at"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	FilesProcessed  []string  `json:"files_processed"`
	ChunksProcessed int       `json:"chunks_processed"`
	ChunksFailed    int       `json:"chunks_failed"`
	Errors          []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads run state from disk, or starts fresh when none exists.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{StartedAt: time.Now().UTC(), path: path}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = path
	return &s, nil
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// IsProcessed reports whether the file finished in this or a prior run.
func (s *State) IsProcessed(name string) bool {
	for _, f := range s.FilesProcessed {
		if f == name {
			return true
		}
	}
	return false
}

// MarkProcessed records the file as done.
func (s *State) MarkProcessed(name string) {
	if !s.IsProcessed(name) {
		s.FilesProcessed = append(s.FilesProcessed, name)
	}
}

// AddError records a non-fatal per-file failure.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}
