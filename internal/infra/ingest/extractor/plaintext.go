package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// PlaintextExtractor is the reference implementation for arbitrary
// uploaded text: it passes bytes through unchanged, splitting on blank
// lines into paragraph-annotated fragments.
type PlaintextExtractor struct{}

// NewPlaintextExtractor constructs the passthrough extractor.
func NewPlaintextExtractor() *PlaintextExtractor {
	return &PlaintextExtractor{}
}

func (e *PlaintextExtractor) Kind() ingest.SourceKind { return ingest.SourceKindUpload }

func (e *PlaintextExtractor) IOBound() bool { return false }

func (e *PlaintextExtractor) EstimatedTimePerByte() time.Duration {
	return 10 * time.Nanosecond
}

func (e *PlaintextExtractor) Run(_ context.Context, src ingest.ExtractSource) (ingest.ExtractResult, error) {
	if len(src.Bytes) == 0 {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrCorruptSource, Err: errEmptySource}
	}

	text := string(src.Bytes)
	if !isLikelyText(text) {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrUnsupportedFormat, Err: errNotText}
	}

	paragraphs := strings.Split(text, "\n\n")
	fragments := make([]ingest.TextFragment, 0, len(paragraphs))
	for i, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		page := i
		fragments = append(fragments, ingest.TextFragment{
			Text:       para,
			Annotation: &ingest.Annotation{Page: &page},
		})
	}
	return ingest.ExtractResult{Fragments: fragments}, nil
}

// isLikelyText rejects obvious binary content by sampling for NUL bytes,
// since the uploaded-bytes contract makes no MIME-type guarantee.
func isLikelyText(s string) bool {
	sample := s
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	return !strings.ContainsRune(sample, 0)
}

var errEmptySource = extractErr("empty source")
var errNotText = extractErr("source does not look like text")

type extractErr string

func (e extractErr) Error() string { return string(e) }

var _ ingest.Extractor = (*PlaintextExtractor)(nil)
