package extractor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

const htmlMaxBytes = 10 * 1000 * 1000

// HTMLExtractor fetches a web page, isolates its main article content
// with go-shiori/go-readability, then converts the article HTML to
// structure-preserving markdown text, annotated by section heading.
type HTMLExtractor struct {
	httpClient *http.Client
}

// NewHTMLExtractor constructs an extractor using a hardened HTTP client.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{httpClient: &http.Client{Timeout: 20 * time.Second}}
}

func (e *HTMLExtractor) Kind() ingest.SourceKind { return ingest.SourceKindURL }

func (e *HTMLExtractor) IOBound() bool { return true }

func (e *HTMLExtractor) EstimatedTimePerByte() time.Duration {
	return 200 * time.Nanosecond
}

func (e *HTMLExtractor) Run(ctx context.Context, src ingest.ExtractSource) (ingest.ExtractResult, error) {
	if strings.TrimSpace(src.URL) == "" {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrUnsupportedFormat, Err: errors.New("missing url")}
	}

	parsed, err := url.Parse(src.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrUnsupportedFormat, Err: errors.New("unsupported url scheme")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrInternal, Err: err}
	}
	req.Header.Set("User-Agent", "ingest-engine/1.0 (+https://example.invalid/bot)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: errors.New("status " + resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, htmlMaxBytes+1))
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: err}
	}
	if int64(len(body)) > htmlMaxBytes {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrUnsupportedFormat, Err: errors.New("html exceeds max bytes")}
	}

	finalURL := parsed
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	articleHTML := string(body)
	title := ""
	art, rerr := readability.FromReader(strings.NewReader(string(body)), finalURL)
	if rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, mdErr := htmltomarkdown.ConvertString(articleHTML)
	if mdErr != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrCorruptSource, Err: mdErr}
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrCorruptSource, Err: errors.New("no extractable text")}
	}

	return ingest.ExtractResult{Fragments: fragmentsFromMarkdown(md, title)}, nil
}

// fragmentsFromMarkdown splits converted markdown on heading lines,
// carrying the most recent heading forward as each fragment's section path.
func fragmentsFromMarkdown(md, title string) []ingest.TextFragment {
	section := title
	var fragments []ingest.TextFragment
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text == "" {
			return
		}
		var ann *ingest.Annotation
		if section != "" {
			s := section
			ann = &ingest.Annotation{SectionPath: &s}
		}
		fragments = append(fragments, ingest.TextFragment{Text: text, Annotation: ann})
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			section = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(trimmed)
	}
	flush()
	return fragments
}

var _ ingest.Extractor = (*HTMLExtractor)(nil)
