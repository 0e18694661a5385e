package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elin-hagberg/careform/internal/survey"
)

// ParseKind classifies why a response failed to parse. The split matters:
// structural failures are retried with the same prompt, semantic schema
// failures are not.
type ParseKind string

const (
	// ParseEmptyOrNotJSON means the response did not decode as the expected
	// JSON array at all.
	ParseEmptyOrNotJSON ParseKind = "EMPTY_OR_NOT_JSON"
	// ParseSchemaInvalid means the payload decoded but a field is
	// semantically invalid (unknown question id, bad certainty, a choice
	// answer without rationale, an answer value breaking its question's
	// rules).
	ParseSchemaInvalid ParseKind = "SCHEMA_INVALID"
)

// ParseError is a classified response-decode failure.
type ParseError struct {
	Kind   ParseKind
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response (%s): %s", e.Kind, e.Detail)
}

// Retryable reports whether re-invoking the oracle with the same prompt may
// help. Only structural decode failures are retried; schema violations fail
// immediately.
func (e *ParseError) Retryable() bool {
	return e.Kind == ParseEmptyOrNotJSON
}

// ParseProposals decodes the oracle's raw text into proposed answers and
// validates them against the survey's question set. Question ids are
// trimmed so they compare as canonical strings.
func ParseProposals(raw string, s *survey.Survey) ([]ProposedAnswer, *ParseError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Kind: ParseEmptyOrNotJSON, Detail: "empty response"}
	}

	var proposals []ProposedAnswer
	if err := json.Unmarshal([]byte(trimmed), &proposals); err != nil {
		return nil, &ParseError{Kind: ParseEmptyOrNotJSON, Detail: err.Error()}
	}

	for i := range proposals {
		p := &proposals[i]
		p.QuestionID = strings.TrimSpace(p.QuestionID)

		q := s.ByID(p.QuestionID)
		if q == nil {
			return nil, &ParseError{Kind: ParseSchemaInvalid, Detail: fmt.Sprintf("unknown question id %q", p.QuestionID)}
		}
		if !ValidCertainty(p.Certainty) {
			return nil, &ParseError{Kind: ParseSchemaInvalid, Detail: fmt.Sprintf("question %s: invalid certainty %q", p.QuestionID, p.Certainty)}
		}
		if q.Type.Choice() && strings.TrimSpace(p.Rationale) == "" {
			return nil, &ParseError{Kind: ParseSchemaInvalid, Detail: fmt.Sprintf("question %s: choice answer without rationale", p.QuestionID)}
		}
		if err := validateAnswer(q, p.Answer); err != nil {
			return nil, &ParseError{Kind: ParseSchemaInvalid, Detail: fmt.Sprintf("question %s: %v", p.QuestionID, err)}
		}
	}

	return proposals, nil
}

// validateAnswer enforces the answer-value rules at the parse boundary, so
// a violating response fails the chunk before any merge is attempted: no
// empty answers, selections only for choice questions, selections must name
// declared options, single choice takes exactly one. The store applies the
// same rules again when records are written.
func validateAnswer(q *survey.Question, v Value) error {
	if v.Empty() {
		return fmt.Errorf("empty answer")
	}

	if !q.Type.Choice() {
		if v.IsChoice() {
			return fmt.Errorf("%s question answered with option selections", q.Type)
		}
		return nil
	}

	// A bare string naming an option is accepted; the store coerces it.
	selections := v.Choices
	if !v.IsChoice() {
		selections = []string{strings.TrimSpace(v.Text)}
	}
	if q.Type == survey.TypeSingleChoice && len(selections) != 1 {
		return fmt.Errorf("single choice question needs exactly one selection, got %d", len(selections))
	}
	for _, sel := range selections {
		if !validOption(q, sel) {
			return fmt.Errorf("selection %q is not one of the options", sel)
		}
	}
	return nil
}

func validOption(q *survey.Question, sel string) bool {
	for _, opt := range q.Options {
		if opt == sel {
			return true
		}
	}
	return false
}
