package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StateFileName is the resume state kept inside the interview directory.
const StateFileName = ".careform-state.json"

var audioExts = map[string]bool{
	".m4a":  true,
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
}

// ProcessFunc runs the full pipeline over one interview file and
// reports how many chunks it produced and how many of those failed.
type ProcessFunc func(ctx context.Context, path string) (chunks, failed int, err error)

// Runner walks a directory of interview recordings or transcripts,
// processing each through the pipeline. Progress is checkpointed after
// every file, so rerunning after a crash skips finished interviews.
type Runner struct {
	process ProcessFunc
	logger  *slog.Logger
}

func NewRunner(process ProcessFunc, logger *slog.Logger) *Runner {
	return &Runner{process: process, logger: logger}
}

// Run processes every eligible file in dir in name order. Per-file
// failures are recorded in the state and the run continues; only
// context cancellation stops it early.
func (r *Runner) Run(ctx context.Context, dir string) (*State, error) {
	state, err := LoadState(filepath.Join(dir, StateFileName))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("interviews discovered", "dir", dir, "files", len(files))

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if state.IsProcessed(name) {
			r.logger.Debug("already processed", "file", name)
			continue
		}

		chunks, failed, err := r.process(ctx, filepath.Join(dir, name))
		if err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			r.logger.Warn("interview failed", "file", name, "error", err)
			state.AddError(fmt.Sprintf("%s: %v", name, err))
		} else {
			state.MarkProcessed(name)
			state.ChunksProcessed += chunks
			state.ChunksFailed += failed
			r.logger.Info("interview processed", "file", name, "chunks", chunks, "failed_chunks", failed)
		}

		if err := state.Save(); err != nil {
			return state, fmt.Errorf("save state: %w", err)
		}
	}

	return state, nil
}

// discoverFiles lists recordings and transcripts in dir, sorted by
// name. A .txt file whose stem matches a recording is skipped: it is
// that recording's cached transcript, not a separate interview.
func discoverFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	stems := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if audioExts[ext] {
			stems[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = true
		}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		switch {
		case audioExts[ext]:
			files = append(files, e.Name())
		case ext == ".txt":
			stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if !stems[stem] {
				files = append(files, e.Name())
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
