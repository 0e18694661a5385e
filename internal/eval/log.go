// Package eval records per-chunk telemetry and evaluation summaries as
// append-only JSONL logs, and scores oracle answers against a human-labeled
// reference.
package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Row is one telemetry record per chunk attempt. The run id encodes the
// chunking parameters and the chunk's position, e.g. "S10_O2_3_7".
type Row struct {
	RunID       string  `json:"run_id"`
	RTT         float64 `json:"rtt"` // seconds, rounded to one decimal
	Retry       int     `json:"retry"`
	TotalTokens *int    `json:"total_tokens,omitempty"`
}

// RunID builds the identifier for one chunk of a run.
func RunID(sentences, overlap, chunk, total int) string {
	return fmt.Sprintf("S%d_O%d_%d_%d", sentences, overlap, chunk, total)
}

// RunPrefix is the shared prefix of all run ids for one chunking
// configuration.
func RunPrefix(sentences, overlap int) string {
	return fmt.Sprintf("S%d_O%d", sentences, overlap)
}

// Recorder appends telemetry rows and summaries to their log files.
type Recorder struct {
	chunkLogPath string
	resultsPath  string
}

func NewRecorder(chunkLogPath, resultsPath string) *Recorder {
	return &Recorder{chunkLogPath: chunkLogPath, resultsPath: resultsPath}
}

// LogChunk appends one row to the chunk log. Rows are never mutated.
func (r *Recorder) LogChunk(row Row) error {
	if err := os.MkdirAll(filepath.Dir(r.chunkLogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	f, err := os.OpenFile(r.chunkLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// ResetChunkLog removes the chunk log so an evaluation run starts clean.
func (r *Recorder) ResetChunkLog() error {
	if err := os.Remove(r.chunkLogPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove chunk log: %w", err)
	}
	return nil
}

// rows reads the chunk log, skipping blank and malformed lines.
func (r *Recorder) rows() ([]Row, error) {
	f, err := os.Open(r.chunkLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open chunk log: %w", err)
	}
	defer f.Close()

	var rows []Row
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue // a torn or hand-edited line must not sink the summary
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk log: %w", err)
	}
	return rows, nil
}
