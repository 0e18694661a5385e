package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Oracle is the language-model service answers are extracted from. It is a
// black box: one text prompt in, raw text plus token usage out.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (text string, totalTokens int, err error)
}

// Certainty levels the oracle may self-report. Human-entered answers are
// always recorded as high.
const (
	CertaintyLow    = "low"
	CertaintyMedium = "medium"
	CertaintyHigh   = "high"
)

// ValidCertainty reports whether s is a known certainty level.
func ValidCertainty(s string) bool {
	return s == CertaintyLow || s == CertaintyMedium || s == CertaintyHigh
}

// Value is an answer payload: free text, or a set of selected options for
// choice questions. Exactly one side is populated.
type Value struct {
	Text    string
	Choices []string
}

// TextValue returns a free-text value.
func TextValue(s string) Value { return Value{Text: s} }

// ChoiceValue returns an option-selection value.
func ChoiceValue(opts ...string) Value { return Value{Choices: opts} }

// IsChoice reports whether the value is an option selection.
func (v Value) IsChoice() bool { return v.Choices != nil }

// Empty reports whether the value carries no answer at all.
func (v Value) Empty() bool { return v.Text == "" && len(v.Choices) == 0 }

// String renders the value for prompts, logs and reference comparison.
// Choice selections join with ", " in selection order.
func (v Value) String() string {
	if v.Choices != nil {
		return strings.Join(v.Choices, ", ")
	}
	return v.Text
}

// UnmarshalJSON accepts a string, an array of strings, or a bare number
// (kept as its literal text). The oracle answers text questions with a
// string and choice questions with either form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value{Text: s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = Value{Choices: list}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Value{Text: n.String()}
		return nil
	}
	return fmt.Errorf("answer must be a string or an array of strings")
}

// MarshalJSON is the inverse of UnmarshalJSON: choice values round-trip as
// arrays, everything else as a string.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Choices != nil {
		return json.Marshal(v.Choices)
	}
	return json.Marshal(v.Text)
}

// ProposedAnswer is one element of the oracle's structured response. The
// JSON field names are the wire contract and match the worked examples in
// the prompts exactly.
type ProposedAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     Value  `json:"answer"`
	Certainty  string `json:"certainty"`
	Rationale  string `json:"rationale"`
}

// Result is a successful extraction from one chunk.
type Result struct {
	Proposals   []ProposedAnswer
	Retries     int // oracle re-invocations consumed by malformed responses
	TotalTokens int // summed across all attempts
}
