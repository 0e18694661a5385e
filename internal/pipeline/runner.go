package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elin-hagberg/careform/internal/chunker"
	"github.com/elin-hagberg/careform/internal/eval"
	"github.com/elin-hagberg/careform/internal/extractor"
	"github.com/elin-hagberg/careform/internal/notify"
	"github.com/elin-hagberg/careform/internal/store"
	"github.com/elin-hagberg/careform/internal/survey"
)

// Params fixes the chunking geometry for a run. The telemetry run id
// is derived from these, so rows from different geometries never mix.
type Params struct {
	SentencesPerChunk int
	OverlapSentences  int
}

// Stats summarises a completed run.
type Stats struct {
	TotalChunks  int
	FailedChunks int
}

// Runner walks a transcript chunk by chunk, querying the oracle for
// each window and folding the proposals into the answer store. A run
// is single-writer: no other goroutine mutates the store while Run is
// in flight.
type Runner struct {
	extractor *extractor.Extractor
	store     *store.Store
	recorder  *eval.Recorder
	notifier  *notify.Publisher
	logger    *slog.Logger
}

func New(ex *extractor.Extractor, st *store.Store, rec *eval.Recorder, n *notify.Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		extractor: ex,
		store:     st,
		recorder:  rec,
		notifier:  n,
		logger:    logger,
	}
}

// Run processes every chunk of the transcript in order. A chunk whose
// extraction fails is logged and skipped; the run keeps going so one
// bad oracle exchange cannot sink the interview. Only persistence
// failures and context cancellation abort the run.
func (r *Runner) Run(ctx context.Context, transcript string, p Params) (*Stats, error) {
	chunks, err := chunker.Chunks(transcript, p.SentencesPerChunk, p.OverlapSentences)
	if err != nil {
		return nil, fmt.Errorf("chunk transcript: %w", err)
	}

	stats := &Stats{TotalChunks: len(chunks)}
	if len(chunks) == 0 {
		r.logger.Warn("transcript produced no chunks")
		return stats, nil
	}

	s := r.store.Survey()
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		runID := eval.RunID(p.SentencesPerChunk, p.OverlapSentences, i+1, len(chunks))
		prompt := r.buildPrompt(s, chunk)

		start := time.Now()
		result, err := r.extractor.Extract(ctx, prompt, s)
		rtt := math.Round(time.Since(start).Seconds()*10) / 10

		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedChunks++
			r.logger.Error("chunk extraction failed", "run_id", runID, "error", err)
			r.logChunk(eval.Row{RunID: runID, RTT: rtt, Retry: extractor.MaxRetries})
			r.notifier.ChunkProcessed(notify.ChunkEvent{
				RunID:      runID,
				Chunk:      i + 1,
				TotalChunk: len(chunks),
				RTT:        rtt,
				Retries:    extractor.MaxRetries,
				Failed:     true,
			})
			continue
		}

		if err := r.store.Merge(ctx, result.Proposals, store.ProvenanceOracle); err != nil {
			if errors.Is(err, store.ErrPersistence) {
				return stats, err
			}
			// A rejected merge degrades the chunk the same way an
			// extraction failure does.
			stats.FailedChunks++
			r.logger.Error("chunk merge rejected", "run_id", runID, "error", err)
			r.logChunk(eval.Row{RunID: runID, RTT: rtt, Retry: extractor.MaxRetries})
			r.notifier.ChunkProcessed(notify.ChunkEvent{
				RunID:      runID,
				Chunk:      i + 1,
				TotalChunk: len(chunks),
				RTT:        rtt,
				Retries:    extractor.MaxRetries,
				Failed:     true,
			})
			continue
		}

		r.logChunk(eval.Row{RunID: runID, RTT: rtt, Retry: result.Retries, TotalTokens: &result.TotalTokens})
		r.logger.Info("chunk processed",
			"run_id", runID,
			"proposals", len(result.Proposals),
			"retries", result.Retries,
			"tokens", result.TotalTokens)

		for _, prop := range result.Proposals {
			r.notifier.AnswerUpdated(notify.AnswerEvent{
				QuestionID: prop.QuestionID,
				Certainty:  prop.Certainty,
				Provenance: string(store.ProvenanceOracle),
			})
		}
		r.notifier.ChunkProcessed(notify.ChunkEvent{
			RunID:      runID,
			Chunk:      i + 1,
			TotalChunk: len(chunks),
			RTT:        rtt,
			Retries:    result.Retries,
		})
	}

	r.notifier.RunDone(notify.RunEvent{
		RunID:        eval.RunPrefix(p.SentencesPerChunk, p.OverlapSentences),
		TotalChunks:  stats.TotalChunks,
		FailedChunks: stats.FailedChunks,
	})
	return stats, nil
}

// buildPrompt picks the initial prompt when no oracle answers exist
// yet, the follow-up prompt otherwise. Human-edited answers never
// appear in the prior and their questions are withheld from the
// schema entirely.
func (r *Runner) buildPrompt(s *survey.Survey, chunk string) string {
	protected := r.store.Protected()
	schema := survey.Format(s, protected)
	prior := renderPrior(r.store.Snapshot())
	if prior == "" {
		return extractor.BuildInitialPrompt(schema, chunk)
	}
	return extractor.BuildFollowUpPrompt(schema, prior, chunk)
}

// renderPrior formats the oracle-sourced answers for inclusion in the
// follow-up prompt, ordered by question id.
func renderPrior(answers map[string]store.Record) string {
	ids := make([]string, 0, len(answers))
	for id, rec := range answers {
		if rec.Provenance != store.ProvenanceOracle {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})

	var b strings.Builder
	for _, id := range ids {
		rec := answers[id]
		fmt.Fprintf(&b, "%s: %s (certainty: %s)", id, rec.Value.String(), rec.Certainty)
		if rec.Rationale != "" {
			fmt.Fprintf(&b, " - %q", rec.Rationale)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Runner) logChunk(row eval.Row) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.LogChunk(row); err != nil {
		r.logger.Warn("log chunk telemetry", "run_id", row.RunID, "error", err)
	}
}
