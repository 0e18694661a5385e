// Package survey loads and renders the read-only question set that drives
// answer extraction.
package survey

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// QuestionType classifies how a question is answered.
type QuestionType string

const (
	TypeText           QuestionType = "text"
	TypeNumber         QuestionType = "number"
	TypeSingleChoice   QuestionType = "single choice"
	TypeMultipleChoice QuestionType = "multiple choice"
)

// Choice reports whether answers to this type are option selections.
func (t QuestionType) Choice() bool {
	return t == TypeSingleChoice || t == TypeMultipleChoice
}

// Question is one survey question. The set is loaded once per survey and
// read-only afterwards.
type Question struct {
	ID      string
	Field   string
	Text    string
	Type    QuestionType
	Options []string // ordered; empty for non-choice types
}

// Survey is an ordered question set with id lookup.
type Survey struct {
	Questions []Question
	byID      map[string]*Question
}

// ByID returns the question with the given id, or nil.
func (s *Survey) ByID(id string) *Question {
	if s == nil {
		return nil
	}
	return s.byID[id]
}

// New builds a Survey from a question list, canonicalising ids to trimmed
// strings. Duplicate ids are rejected.
func New(questions []Question) (*Survey, error) {
	s := &Survey{
		Questions: make([]Question, 0, len(questions)),
		byID:      make(map[string]*Question, len(questions)),
	}
	for _, q := range questions {
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" {
			return nil, fmt.Errorf("question %q has no id", q.Text)
		}
		if _, dup := s.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		s.Questions = append(s.Questions, q)
		s.byID[q.ID] = &s.Questions[len(s.Questions)-1]
	}
	return s, nil
}

// LoadCSV reads a survey definition: one row per question with columns
// id, field, question, type, options (semicolon-delimited). A header row
// is detected by a non-numeric first cell and skipped.
func LoadCSV(path string) (*Survey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open survey: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse survey %s: %w", path, err)
	}
	return s, nil
}

// Parse reads a CSV survey definition from r.
func Parse(r io.Reader) (*Survey, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var questions []Question
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line+1, err)
		}
		line++

		if len(rec) < 4 {
			return nil, fmt.Errorf("row %d: expected at least 4 columns, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "questionid") {
			continue // header row
		}

		q := Question{
			ID:    strings.TrimSpace(rec[0]),
			Field: strings.TrimSpace(rec[1]),
			Text:  strings.TrimSpace(rec[2]),
			Type:  QuestionType(strings.ToLower(strings.TrimSpace(rec[3]))),
		}
		switch q.Type {
		case TypeText, TypeNumber, TypeSingleChoice, TypeMultipleChoice:
		default:
			return nil, fmt.Errorf("row %d: unknown question type %q", line, rec[3])
		}
		if len(rec) > 4 && strings.TrimSpace(rec[4]) != "" {
			for _, opt := range strings.Split(rec[4], ";") {
				q.Options = append(q.Options, strings.TrimSpace(opt))
			}
		}
		if q.Type.Choice() && len(q.Options) == 0 {
			return nil, fmt.Errorf("row %d: choice question %s has no options", line, q.ID)
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions found")
	}
	return New(questions)
}

// Format renders the question set into the schema block used in oracle
// prompts, one line per question:
//
//	id: [field] question (type: opt1, opt2)
//
// Questions whose id is in protected are excluded, so the oracle is never
// offered a question a human has already answered.
func Format(s *Survey, protected map[string]bool) string {
	var sb strings.Builder
	for _, q := range s.Questions {
		if protected[q.ID] {
			continue
		}
		fmt.Fprintf(&sb, "%s: [%s] %s (%s", q.ID, q.Field, q.Text, q.Type)
		if len(q.Options) > 0 {
			fmt.Fprintf(&sb, ": %s", strings.Join(q.Options, ", "))
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}
