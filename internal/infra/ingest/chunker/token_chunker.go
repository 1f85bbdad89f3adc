// Package chunker implements the token-aware Chunker the Pipeline Engine
// calls after extraction, generalizing the teacher's word-boundary-only
// SimpleChunker into the full paragraph/sentence/word/hard-cut cascade.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// TokenChunker splits normalized text into token-bounded chunks,
// preferring to break at paragraph boundaries, then sentences, then
// words, falling back to a hard rune cut only for pathological input
// (e.g. a single long base64 blob with no whitespace at all).
type TokenChunker struct {
	encoder *tiktoken.Tiktoken
}

// NewTokenChunker constructs a chunker backed by the cl100k_base encoding.
func NewTokenChunker() *TokenChunker {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &TokenChunker{encoder: enc}
}

// Chunk implements ingest.Chunker.
func (c *TokenChunker) Chunk(text string, annotations []ingest.Annotation, policy ingest.ChunkPolicy) []ingest.ChunkCandidate {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if policy.TargetTokens <= 0 {
		policy = ingest.DefaultChunkPolicy()
	}
	maxRunes := policy.MaxTokens * 5 // conservative guard against token-inflating runs (long base64, etc.)

	paragraphs := strings.Split(text, "\n\n")

	builder := &chunkBuilder{
		encoder:   c.encoder,
		target:    policy.TargetTokens,
		overlap:   policy.OverlapTokens,
		ceiling:   policy.MaxTokens,
		maxRunes:  maxRunes,
	}

	for i, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		ann := nearestAnnotation(annotations, i)
		builder.addParagraph(para, ann)
	}
	builder.flush()
	return builder.out
}

// nearestAnnotation approximates "inherit from the nearest preceding
// annotation" by indexing the extractor's per-fragment annotation list
// against the paragraph's position in the joined text.
func nearestAnnotation(annotations []ingest.Annotation, paraIndex int) *ingest.Annotation {
	if len(annotations) == 0 {
		return nil
	}
	idx := paraIndex
	if idx >= len(annotations) {
		idx = len(annotations) - 1
	}
	a := annotations[idx]
	return &a
}

// chunkBuilder accumulates paragraphs/sentences/words into token-bounded
// chunks, applying the target/overlap/ceiling policy as it goes.
type chunkBuilder struct {
	encoder  *tiktoken.Tiktoken
	target   int
	overlap  int
	ceiling  int
	maxRunes int

	current      strings.Builder
	currentPage  *int
	currentPath  *string
	out          []ingest.ChunkCandidate
}

func (b *chunkBuilder) addParagraph(para string, ann *ingest.Annotation) {
	if b.countTokens(b.current.String()+" "+para) <= b.target {
		b.writeAnnotated(para, ann)
		return
	}
	// Paragraph alone exceeds the target: fall back to sentence splitting.
	for _, sentence := range splitSentences(para) {
		b.addSentence(sentence, ann)
	}
}

func (b *chunkBuilder) addSentence(sentence string, ann *ingest.Annotation) {
	if b.countTokens(b.current.String()+" "+sentence) <= b.ceiling {
		b.writeAnnotated(sentence, ann)
		if b.countTokens(b.current.String()) >= b.target {
			b.flushWithOverlap()
		}
		return
	}
	// Sentence alone exceeds the ceiling: fall back to word splitting.
	for _, word := range strings.Fields(sentence) {
		b.addWord(word, ann)
	}
}

func (b *chunkBuilder) addWord(word string, ann *ingest.Annotation) {
	if utf8.RuneCountInString(word) > b.maxRunes {
		for _, piece := range splitLongWord(word, b.maxRunes) {
			b.addWord(piece, ann)
		}
		return
	}
	if b.countTokens(b.current.String()+" "+word) > b.ceiling && b.current.Len() > 0 {
		b.flushWithOverlap()
	}
	b.writeAnnotated(word, ann)
	if b.countTokens(b.current.String()) >= b.target {
		b.flushWithOverlap()
	}
}

func (b *chunkBuilder) writeAnnotated(s string, ann *ingest.Annotation) {
	if b.current.Len() > 0 {
		b.current.WriteString(" ")
	}
	b.current.WriteString(s)
	if ann != nil {
		b.currentPage = ann.Page
		b.currentPath = ann.SectionPath
	}
}

func (b *chunkBuilder) flushWithOverlap() {
	tail := ""
	if b.overlap > 0 {
		tail = b.tailTokens(b.current.String(), b.overlap)
	}
	b.flush()
	if tail != "" {
		b.current.WriteString(tail)
	}
}

func (b *chunkBuilder) flush() {
	content := strings.TrimSpace(b.current.String())
	b.current.Reset()
	if content == "" {
		return
	}
	b.out = append(b.out, ingest.ChunkCandidate{
		Index:       len(b.out),
		Text:        content,
		TokenCount:  b.countTokens(content),
		PageNumber:  b.currentPage,
		SectionPath: b.currentPath,
	})
}

func (b *chunkBuilder) countTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if b.encoder != nil {
		return len(b.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

func (b *chunkBuilder) tailTokens(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || text == "" {
		return ""
	}
	if b.encoder != nil {
		ids := b.encoder.Encode(text, nil, nil)
		if len(ids) <= limit {
			return text + " "
		}
		tail := ids[len(ids)-limit:]
		return b.encoder.Decode(tail) + " "
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return text + " "
	}
	return strings.Join(words[len(words)-limit:], " ") + " "
}

// splitSentences breaks a paragraph on sentence-ending punctuation,
// keeping the terminator attached to its sentence.
func splitSentences(para string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(para)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			nextIsBoundary := i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n'
			if nextIsBoundary {
				sentences = append(sentences, strings.TrimSpace(current.String()))
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	if len(sentences) == 0 {
		return []string{para}
	}
	return sentences
}

// splitLongWord slices a long token-free string into smaller pieces to
// avoid oversize chunks (e.g. a long base64 blob with no whitespace).
func splitLongWord(word string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(word) <= maxRunes {
		return []string{word}
	}
	runes := []rune(word)
	var parts []string
	for i := 0; i < len(runes); i += maxRunes {
		end := i + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

var _ ingest.Chunker = (*TokenChunker)(nil)
