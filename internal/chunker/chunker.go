// Package chunker splits interview transcripts into overlapping windows of
// sentences for incremental LLM extraction.
package chunker

import (
	"fmt"
	"strings"
)

// terminal reports whether r ends a sentence.
func terminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split segments text into sentences. A sentence ends after a run of
// terminal punctuation (".", "!", "?", possibly repeated, e.g. "?!").
// All original whitespace and line breaks are preserved: concatenating the
// returned sentences reproduces text exactly. Trailing text without
// terminal punctuation counts as a final sentence.
func Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !terminal(runes[i]) {
			continue
		}
		// Consume the whole punctuation run.
		for i+1 < len(runes) && terminal(runes[i+1]) {
			i++
		}
		sentences = append(sentences, string(runes[start:i+1]))
		start = i + 1
	}

	if start < len(runes) {
		tail := string(runes[start:])
		if strings.TrimSpace(tail) != "" {
			sentences = append(sentences, tail)
		} else if len(sentences) > 0 {
			// Trailing whitespace belongs to the last sentence so the
			// concatenation invariant holds.
			sentences[len(sentences)-1] += tail
		}
	}

	return sentences
}

// Chunks splits text into overlapping windows of sentencesPerChunk
// sentences, advancing by max(1, sentencesPerChunk-overlap) sentences per
// window. Every sentence appears in at least one chunk, and chunking the
// same text with the same parameters twice yields identical results.
// A transcript with no usable text yields zero chunks.
func Chunks(text string, sentencesPerChunk, overlap int) ([]string, error) {
	if sentencesPerChunk < 1 {
		return nil, fmt.Errorf("sentences per chunk must be >= 1, got %d", sentencesPerChunk)
	}
	if overlap < 0 || overlap >= sentencesPerChunk {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", sentencesPerChunk, overlap)
	}

	sentences := Split(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	step := sentencesPerChunk - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(sentences); start += step {
		end := start + sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[start:end], ""))
		if end == len(sentences) {
			break
		}
	}

	return chunks, nil
}
