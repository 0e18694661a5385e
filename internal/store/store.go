// Package store holds the running answer set for a survey session: one
// record per question id, merged from oracle proposals and human edits and
// persisted in full after every merge.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elin-hagberg/careform/internal/extractor"
	"github.com/elin-hagberg/careform/internal/survey"
)

// Provenance records who produced an answer.
type Provenance string

const (
	ProvenanceOracle Provenance = "oracle"
	ProvenanceHuman  Provenance = "human"
)

// ErrPersistence wraps failures to write the answer set to durable storage.
// Subsequent chunks depend on durable state, so callers must abort the run.
var ErrPersistence = errors.New("persist answers")

// Record is the current answer for one question id. A new write for an id
// replaces the prior record wholly.
type Record struct {
	Value      extractor.Value `json:"value"`
	Certainty  string          `json:"certainty"`
	Rationale  string          `json:"rationale"`
	Provenance Provenance      `json:"provenance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Persister writes the full answer mapping to durable storage.
type Persister interface {
	Save(ctx context.Context, answers map[string]Record) error
}

// Store is the mutable answer set for one processing session. Writes are
// sequential within a run (single writer); the mutex only guards the serve
// mode where human edits arrive over HTTP.
type Store struct {
	survey    *survey.Survey
	persister Persister

	mu        sync.RWMutex
	answers   map[string]Record
	protected map[string]bool
}

func New(s *survey.Survey, p Persister) *Store {
	return &Store{
		survey:    s,
		persister: p,
		answers:   make(map[string]Record),
		protected: make(map[string]bool),
	}
}

// Restore replaces the in-memory answer set with a previously persisted
// one. The protected set is rebuilt from human-provenance records.
func (st *Store) Restore(answers map[string]Record) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.answers = make(map[string]Record, len(answers))
	st.protected = make(map[string]bool)
	for id, r := range answers {
		st.answers[id] = r
		if r.Provenance == ProvenanceHuman {
			st.protected[id] = true
		}
	}
}

// Merge validates proposals against the survey, then upserts them all and
// persists the full mapping once. Either every proposal merges or none
// does. Human-provenance merges force certainty to high and add the
// question ids to the protected set, which excludes them from future
// prompts. Validation failures return a plain error; persistence failures
// wrap ErrPersistence and are fatal for the run.
func (st *Store) Merge(ctx context.Context, proposals []extractor.ProposedAnswer, prov Provenance) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	records := make(map[string]Record, len(proposals))
	for _, p := range proposals {
		q := st.survey.ByID(p.QuestionID)
		if q == nil {
			return fmt.Errorf("unknown question id %q", p.QuestionID)
		}

		value, err := normalize(q, p.Answer)
		if err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}

		certainty := p.Certainty
		if prov == ProvenanceHuman {
			certainty = extractor.CertaintyHigh
		} else if !extractor.ValidCertainty(certainty) {
			return fmt.Errorf("question %s: invalid certainty %q", q.ID, certainty)
		}

		records[q.ID] = Record{
			Value:      value,
			Certainty:  certainty,
			Rationale:  p.Rationale,
			Provenance: prov,
			UpdatedAt:  now,
		}
	}

	for id, r := range records {
		st.answers[id] = r
		if prov == ProvenanceHuman {
			st.protected[id] = true
		}
	}

	if err := st.persister.Save(ctx, st.snapshotLocked()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// normalize validates an answer value against the question's declared type.
// A bare string answer to a choice question is accepted when it names a
// valid option; the oracle does this for single-choice questions.
func normalize(q *survey.Question, v extractor.Value) (extractor.Value, error) {
	if v.Empty() {
		return extractor.Value{}, fmt.Errorf("empty answer")
	}

	if !q.Type.Choice() {
		if v.IsChoice() {
			return extractor.Value{}, fmt.Errorf("%s question answered with option selections", q.Type)
		}
		return v, nil
	}

	selections := v.Choices
	if !v.IsChoice() {
		selections = []string{strings.TrimSpace(v.Text)}
	}
	if q.Type == survey.TypeSingleChoice && len(selections) != 1 {
		return extractor.Value{}, fmt.Errorf("single choice question needs exactly one selection, got %d", len(selections))
	}
	for _, sel := range selections {
		if !validOption(q, sel) {
			return extractor.Value{}, fmt.Errorf("selection %q is not one of the options", sel)
		}
	}
	return extractor.ChoiceValue(selections...), nil
}

func validOption(q *survey.Question, sel string) bool {
	for _, opt := range q.Options {
		if opt == sel {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the full current mapping.
func (st *Store) Snapshot() map[string]Record {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked()
}

func (st *Store) snapshotLocked() map[string]Record {
	out := make(map[string]Record, len(st.answers))
	for id, r := range st.answers {
		out[id] = r
	}
	return out
}

// Protected returns a copy of the set of human-answered question ids. The
// prompt builder excludes these so the oracle never re-proposes them.
func (st *Store) Protected() map[string]bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]bool, len(st.protected))
	for id := range st.protected {
		out[id] = true
	}
	return out
}

// Get returns the record for a question id, if any.
func (st *Store) Get(id string) (Record, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	r, ok := st.answers[id]
	return r, ok
}

// Survey returns the read-only question set this store answers.
func (st *Store) Survey() *survey.Survey {
	return st.survey
}
