package eval

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elin-hagberg/careform/internal/extractor"
	"github.com/elin-hagberg/careform/internal/store"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	dir := t.TempDir()
	return NewRecorder(filepath.Join(dir, "log_chunks.jsonl"), filepath.Join(dir, "evaluation_results.jsonl"))
}

func intPtr(v int) *int { return &v }

func TestRunID(t *testing.T) {
	if got := RunID(10, 2, 3, 7); got != "S10_O2_3_7" {
		t.Errorf("RunID = %q", got)
	}
	if got := RunPrefix(10, 2); got != "S10_O2" {
		t.Errorf("RunPrefix = %q", got)
	}
}

func TestTrimmedMean(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	// 10% trim on 10 samples drops one from each end: mean of [2..9] = 5.5.
	if got := TrimmedMean(samples, 0.1); got != 5.5 {
		t.Errorf("TrimmedMean = %v, want 5.5", got)
	}
}

func TestTrimmedMean_TooFewSamples(t *testing.T) {
	// Too few samples to trim: plain mean.
	if got := TrimmedMean([]float64{4, 8}, 0.5); got != 6 {
		t.Errorf("TrimmedMean = %v, want plain mean 6", got)
	}
	if got := TrimmedMean(nil, 0.1); got != 0 {
		t.Errorf("TrimmedMean of no samples = %v, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	r := newTestRecorder(t)

	rtts := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for i, rtt := range rtts {
		row := Row{RunID: RunID(10, 2, i+1, 10), RTT: rtt, Retry: 1, TotalTokens: intPtr(100)}
		if err := r.LogChunk(row); err != nil {
			t.Fatalf("log chunk: %v", err)
		}
	}
	// A row from a different configuration must be filtered out.
	if err := r.LogChunk(Row{RunID: RunID(15, 3, 1, 4), RTT: 99, Retry: 9}); err != nil {
		t.Fatalf("log chunk: %v", err)
	}

	summary, err := r.Summarize(10, 2, 10)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.RTTTrimmedMean != 5.5 {
		t.Errorf("rtt trimmed mean = %v, want 5.5", summary.RTTTrimmedMean)
	}
	if summary.RTTTrimmedMeanTimesTotalChunks != 55 {
		t.Errorf("rtt x chunks = %v, want 55", summary.RTTTrimmedMeanTimesTotalChunks)
	}
	if summary.TotalRetries != 10 {
		t.Errorf("total retries = %d, want 10", summary.TotalRetries)
	}
	if summary.TotalTokensSum == nil || *summary.TotalTokensSum != 1000 {
		t.Errorf("total tokens = %v, want 1000", summary.TotalTokensSum)
	}

	results, err := r.Results()
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 results row, got %d", len(results))
	}
	if results[0].Scored() {
		t.Error("fresh summary row must not be marked scored")
	}
}

func TestSummary_TokensSumNullWhenAbsent(t *testing.T) {
	// A row whose chunks logged no token counts still carries the key,
	// as an explicit null.
	data, err := json.Marshal(&Summary{NSentences: 4, NOverlap: 2, TotalChunks: 4})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"total_tokens_sum":null`) {
		t.Errorf("summary row missing explicit null tokens sum: %s", data)
	}
}

func TestSummarize_NoMatchingRows(t *testing.T) {
	r := newTestRecorder(t)
	if _, err := r.Summarize(10, 2, 5); err == nil {
		t.Fatal("expected error when no rows match the configuration")
	}
}

func record(v extractor.Value) store.Record {
	return store.Record{Value: v, Certainty: "high", Provenance: store.ProvenanceOracle}
}

func TestScore(t *testing.T) {
	// Reference scenario: blanks {9, 19} both left unanswered by the
	// oracle, checked {1, 2} with 1 matching and 2 not.
	ai := map[string]store.Record{
		"1": record(extractor.TextValue("yes")),
		"2": record(extractor.TextValue("moved out last year")),
	}
	human := map[string]store.Record{
		"1": record(extractor.TextValue(" yes ")),
		"2": record(extractor.TextValue("still at home")),
	}

	res := Score(ai, human, nil, []string{"9", "19"}, []string{"1", "2"})
	if res.Right != 3 {
		t.Errorf("right = %d, want 3", res.Right)
	}
	if res.Wrong != 1 {
		t.Errorf("wrong = %d, want 1", res.Wrong)
	}
	if res.Accuracy != 0.75 {
		t.Errorf("accuracy = %v, want 0.75", res.Accuracy)
	}
}

func TestScore_BlankAnsweredCountsWrong(t *testing.T) {
	ai := map[string]store.Record{"9": record(extractor.TextValue("made up"))}
	res := Score(ai, nil, nil, []string{"9"}, nil)
	if res.Wrong != 1 || res.Right != 0 {
		t.Errorf("answered blank should be wrong: %+v", res)
	}
}

func TestScore_UnansweredCheckedCountsWrong(t *testing.T) {
	human := map[string]store.Record{"5": record(extractor.TextValue("yes"))}
	res := Score(nil, human, nil, nil, []string{"5"})
	if res.Wrong != 1 {
		t.Errorf("unanswered checked question should be wrong: %+v", res)
	}
}

func TestRecordScore_UpdatesMostRecentUnscoredRow(t *testing.T) {
	r := newTestRecorder(t)

	for i := 1; i <= 3; i++ {
		if err := r.LogChunk(Row{RunID: RunID(10, 2, i, 3), RTT: float64(i)}); err != nil {
			t.Fatalf("log chunk: %v", err)
		}
	}
	if _, err := r.Summarize(10, 2, 3); err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if err := r.RecordScore(10, 2, ScoreResult{Right: 3, Wrong: 1, Accuracy: 0.75}); err != nil {
		t.Fatalf("record score: %v", err)
	}

	results, err := r.Results()
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("score must merge into the existing row, got %d rows", len(results))
	}
	row := results[0]
	if !row.Scored() || *row.AIRight != 3 || *row.AIWrong != 1 || *row.Accuracy != 0.75 {
		t.Errorf("merged row = %+v", row)
	}
	if row.RTTTrimmedMean == 0 {
		t.Error("merge must keep the timing fields of the summary row")
	}
}

func TestRecordScore_AppendsWhenNoUnscoredRow(t *testing.T) {
	r := newTestRecorder(t)

	if err := r.RecordScore(15, 3, ScoreResult{Right: 2, Wrong: 2, Accuracy: 0.5}); err != nil {
		t.Fatalf("record score: %v", err)
	}

	results, err := r.Results()
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 appended row, got %d", len(results))
	}
	if results[0].NSentences != 15 || !results[0].Scored() {
		t.Errorf("appended row = %+v", results[0])
	}
}
