package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Summary is one evaluation-results row, keyed by chunking configuration.
// Accuracy fields are filled in by a later scoring pass; their absence marks
// the row as not yet scored.
type Summary struct {
	NSentences                     int      `json:"n_sentences"`
	NOverlap                       int      `json:"n_overlap"`
	TotalChunks                    int      `json:"total_chunks,omitempty"`
	RTTTrimmedMean                 float64  `json:"rtt_trimmed_mean,omitempty"`
	RTTTrimmedMeanTimesTotalChunks float64  `json:"rtt_trimmed_mean_times_total_chunks,omitempty"`
	TotalRetries                   int      `json:"total_retries"`
	TotalTokensSum                 *int     `json:"total_tokens_sum"`
	AIRight                        *int     `json:"AI_right,omitempty"`
	AIWrong                        *int     `json:"AI_wrong,omitempty"`
	Accuracy                       *float64 `json:"Accuracy,omitempty"`
}

// Scored reports whether the accuracy pass already ran for this row.
func (s *Summary) Scored() bool {
	return s.AIRight != nil
}

// TrimmedMean is the mean after dropping proportion of the sorted samples
// from each end. With too few samples to trim it falls back to the plain
// mean. Zero samples yield zero.
func TrimmedMean(samples []float64, proportion float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := len(samples)
	trim := int(float64(n) * proportion)
	if n < 2*trim+1 {
		return mean(samples)
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)
	return mean(sorted[trim : n-trim])
}

func mean(samples []float64) float64 {
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Summarize filters chunk-log rows for the given configuration, computes
// the 10%-trimmed mean round-trip time and retry/token totals, and appends
// a summary row to the results log.
func (r *Recorder) Summarize(sentences, overlap, totalChunks int) (*Summary, error) {
	rows, err := r.rows()
	if err != nil {
		return nil, err
	}

	// Trailing underscore keeps "S4_O2" from matching "S4_O21" rows.
	prefix := RunPrefix(sentences, overlap) + "_"
	var rtts []float64
	totalRetries := 0
	tokensSum := 0
	haveTokens := false
	for _, row := range rows {
		if !strings.HasPrefix(row.RunID, prefix) {
			continue
		}
		rtts = append(rtts, row.RTT)
		totalRetries += row.Retry
		if row.TotalTokens != nil {
			tokensSum += *row.TotalTokens
			haveTokens = true
		}
	}
	if len(rtts) == 0 {
		return nil, fmt.Errorf("no chunk rows for %s", prefix)
	}

	trimmed := TrimmedMean(rtts, 0.1)
	summary := &Summary{
		NSentences:                     sentences,
		NOverlap:                       overlap,
		TotalChunks:                    totalChunks,
		RTTTrimmedMean:                 round1(trimmed),
		RTTTrimmedMeanTimesTotalChunks: round1(trimmed * float64(totalChunks)),
		TotalRetries:                   totalRetries,
	}
	if haveTokens {
		summary.TotalTokensSum = &tokensSum
	}

	if err := r.appendResult(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (r *Recorder) appendResult(s *Summary) error {
	if err := os.MkdirAll(filepath.Dir(r.resultsPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	f, err := os.OpenFile(r.resultsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// Results reads all rows from the results log.
func (r *Recorder) Results() ([]Summary, error) {
	f, err := os.Open(r.resultsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open results log: %w", err)
	}
	defer f.Close()

	var out []Summary
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var s Summary
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return nil, fmt.Errorf("parse results row: %w", err)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read results log: %w", err)
	}
	return out, nil
}

func (r *Recorder) rewriteResults(rows []Summary) error {
	var sb strings.Builder
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal results row: %w", err)
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(r.resultsPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("rewrite results log: %w", err)
	}
	return nil
}
