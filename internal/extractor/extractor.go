// Package extractor turns transcript chunks into proposed survey answers by
// prompting a language-model oracle and decoding its structured response,
// retrying malformed responses within a fixed budget.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elin-hagberg/careform/internal/survey"
)

// MaxRetries is the re-invocation budget for structurally malformed oracle
// responses. The fourth consecutive bad response fails the chunk.
const MaxRetries = 3

// ErrExtractionFailed signals that a chunk produced no usable proposals:
// either the retry budget was exhausted or the response violated the answer
// schema. The chunk is skipped; the run continues.
var ErrExtractionFailed = errors.New("extraction failed")

type Extractor struct {
	oracle Oracle
	logger *slog.Logger
}

func New(oracle Oracle, logger *slog.Logger) *Extractor {
	return &Extractor{oracle: oracle, logger: logger}
}

// BuildInitialPrompt renders the first-chunk request: survey schema plus
// chunk text, no prior answers.
func BuildInitialPrompt(schema, chunk string) string {
	return fmt.Sprintf(initialPrompt, schema, chunk)
}

// BuildFollowUpPrompt renders a subsequent-chunk request: survey schema,
// the rendered prior oracle answers, and the new chunk text. The oracle is
// instructed to emit only changed or newly answered entries.
func BuildFollowUpPrompt(schema, prior, chunk string) string {
	return fmt.Sprintf(followUpPrompt, schema, prior, chunk)
}

// Extract sends prompt to the oracle and decodes the response into proposed
// answers validated against s. A structural decode failure re-invokes the
// oracle with the same prompt up to MaxRetries times; a schema violation
// fails immediately. Oracle call errors are returned as-is (the oracle was
// unreachable, not malformed).
func (e *Extractor) Extract(ctx context.Context, prompt string, s *survey.Survey) (*Result, error) {
	retries := 0
	totalTokens := 0

	for {
		raw, tokens, err := e.oracle.Complete(ctx, prompt)
		totalTokens += tokens
		if err != nil {
			return nil, fmt.Errorf("oracle call: %w", err)
		}

		proposals, perr := ParseProposals(raw, s)
		if perr == nil {
			return &Result{Proposals: proposals, Retries: retries, TotalTokens: totalTokens}, nil
		}

		if !perr.Retryable() {
			e.logger.Error("oracle response violates answer schema",
				"kind", string(perr.Kind),
				"detail", perr.Detail,
			)
			return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, perr.Detail)
		}

		if retries >= MaxRetries {
			e.logger.Error("retry budget exhausted",
				"retries", retries,
				"detail", perr.Detail,
			)
			return nil, fmt.Errorf("%w: %d retries exhausted: %s", ErrExtractionFailed, retries, perr.Detail)
		}

		retries++
		e.logger.Warn("malformed oracle response, retrying with same prompt",
			"retry", retries,
			"detail", perr.Detail,
		)
	}
}
