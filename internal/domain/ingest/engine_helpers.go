package ingest

import (
	"errors"
	"io"

	apperrors "github.com/yanqian/ingest-engine/pkg/errors"
)

// asExtractError unwraps err into an *ExtractError, mirroring errors.As
// without forcing every caller to import errors directly.
func asExtractError(err error, target **ExtractError) bool {
	return errors.As(err, target)
}

// errorDetail renders a compact failure detail from an error: the typed
// code of an EmbedError or AppError when err carries one, else its text.
func errorDetail(err error) string {
	if err == nil {
		return "unknown"
	}
	var embedErr *EmbedError
	if errors.As(err, &embedErr) {
		return string(embedErr.Code)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return err.Error()
}

// readAll drains a reader fully; a thin wrapper kept local so callers
// don't need to decide between io.ReadAll and bufio themselves.
func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// flattenFragments joins an extractor's fragment stream into one
// normalized text blob plus the annotations of the fragments that carry
// one, in fragment order. Fragments without an annotation add no entry,
// so the slice lines up with the fragments only when all are annotated.
func flattenFragments(fragments []TextFragment) (string, []Annotation) {
	var text string
	annotations := make([]Annotation, 0, len(fragments))
	for i, f := range fragments {
		if i > 0 {
			text += "\n\n"
		}
		text += f.Text
		if f.Annotation != nil {
			annotations = append(annotations, *f.Annotation)
		}
	}
	return text, annotations
}

// batchCandidates groups chunk candidates into embedding batches bounded
// by both item count and a token budget, mirroring the teacher's
// token-budget batching for embedding requests.
func batchCandidates(candidates []ChunkCandidate, maxItems, maxTokens int) [][]ChunkCandidate {
	if maxItems <= 0 {
		maxItems = 16
	}
	if maxTokens <= 0 {
		maxTokens = 200_000
	}
	var batches [][]ChunkCandidate
	var current []ChunkCandidate
	tokens := 0
	for _, c := range candidates {
		if len(current) >= maxItems || (tokens+c.TokenCount > maxTokens && len(current) > 0) {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, c)
		tokens += c.TokenCount
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
