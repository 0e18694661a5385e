package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersister writes the answer mapping as a JSON file, replacing it
// atomically on every save: the mapping is written to a temp file in the
// same directory and renamed over the target, so readers never observe a
// partial write.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (fp *FilePersister) Save(_ context.Context, answers map[string]Record) error {
	data, err := json.MarshalIndent(answers, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	dir := filepath.Dir(fp.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".answers-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, fp.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", fp.path, err)
	}
	return nil
}

// Load reads a previously saved answer mapping. A missing file is an empty
// mapping, not an error.
func (fp *FilePersister) Load() (map[string]Record, error) {
	data, err := os.ReadFile(fp.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("read answers: %w", err)
	}

	var answers map[string]Record
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers %s: %w", fp.path, err)
	}
	return answers, nil
}
