package eval

import (
	"fmt"
	"strings"

	"github.com/elin-hagberg/careform/internal/store"
)

// ScoreResult is the outcome of comparing oracle answers against a
// human-labeled reference.
type ScoreResult struct {
	Right    int
	Wrong    int
	Accuracy float64
}

// Score compares oracle answers to a human reference answer set.
// Intentionally-blank reference questions count as right only when the
// oracle left them unanswered. Checked questions count as right when the
// trimmed answer strings match. Ignored ids are not scored at all. The
// accuracy denominator is fixed: blank plus checked ids, regardless of how
// many the oracle attempted.
func Score(ai, human map[string]store.Record, ignore, blank, check []string) ScoreResult {
	var res ScoreResult

	for _, qid := range blank {
		if _, answered := ai[qid]; answered {
			res.Wrong++
		} else {
			res.Right++
		}
	}

	for _, qid := range check {
		aiRec, answered := ai[qid]
		humanRec, hasRef := human[qid]
		if answered && hasRef &&
			strings.TrimSpace(aiRec.Value.String()) == strings.TrimSpace(humanRec.Value.String()) {
			res.Right++
		} else {
			res.Wrong++
		}
	}

	denom := len(blank) + len(check)
	if denom > 0 {
		res.Accuracy = round2(float64(res.Right) / float64(denom))
	}
	return res
}

// RecordScore merges a score into the results log: the most recent row for
// this chunking configuration that has not been scored yet is updated in
// place, otherwise a new row is appended.
func (r *Recorder) RecordScore(sentences, overlap int, sr ScoreResult) error {
	rows, err := r.Results()
	if err != nil {
		return err
	}

	right, wrong, acc := sr.Right, sr.Wrong, sr.Accuracy
	for i := len(rows) - 1; i >= 0; i-- {
		row := &rows[i]
		if row.NSentences == sentences && row.NOverlap == overlap && !row.Scored() {
			row.AIRight = &right
			row.AIWrong = &wrong
			row.Accuracy = &acc
			return r.rewriteResults(rows)
		}
	}

	summary := Summary{
		NSentences: sentences,
		NOverlap:   overlap,
		AIRight:    &right,
		AIWrong:    &wrong,
		Accuracy:   &acc,
	}
	return r.appendResult(&summary)
}

// LoadReference reads a human reference answer file (same format as the
// answer store file).
func LoadReference(path string) (map[string]store.Record, error) {
	fp := store.NewFilePersister(path)
	answers, err := fp.Load()
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	return answers, nil
}
