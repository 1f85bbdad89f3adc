package extractor

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

const youtubeTimedTextBase = "https://video.google.com/timedtext"

// YouTubeExtractor fetches a video's public timedtext transcript track
// and annotates each caption line with its m:ss-m:ss timestamp range.
type YouTubeExtractor struct {
	httpClient *http.Client
	baseURL    string
}

// NewYouTubeExtractor constructs the transcript extractor.
func NewYouTubeExtractor() *YouTubeExtractor {
	return &YouTubeExtractor{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    youtubeTimedTextBase,
	}
}

func (e *YouTubeExtractor) Kind() ingest.SourceKind { return ingest.SourceKindYouTube }

func (e *YouTubeExtractor) IOBound() bool { return true }

func (e *YouTubeExtractor) EstimatedTimePerByte() time.Duration {
	return 500 * time.Nanosecond
}

type timedTextDoc struct {
	XMLName xml.Name       `xml:"transcript"`
	Texts   []timedTextRow `xml:"text"`
}

type timedTextRow struct {
	Start    float64 `xml:"start,attr"`
	Duration float64 `xml:"dur,attr"`
	Text     string  `xml:",chardata"`
}

func (e *YouTubeExtractor) Run(ctx context.Context, src ingest.ExtractSource) (ingest.ExtractResult, error) {
	videoID, err := videoIDFromURL(src.URL)
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrUnsupportedFormat, Err: err}
	}

	endpoint := fmt.Sprintf("%s?lang=en&v=%s", e.baseURL, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrInternal, Err: err}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: errors.New("status " + resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1000*1000))
	if err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: err}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrSourceUnavailable, Err: errors.New("no transcript track available")}
	}

	var doc timedTextDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrCorruptSource, Err: err}
	}
	if len(doc.Texts) == 0 {
		return ingest.ExtractResult{}, &ingest.ExtractError{Code: ingest.ExtractErrCorruptSource, Err: errors.New("transcript track is empty")}
	}

	fragments := make([]ingest.TextFragment, 0, len(doc.Texts))
	for _, row := range doc.Texts {
		text := strings.TrimSpace(html.UnescapeString(row.Text))
		if text == "" {
			continue
		}
		label := formatRange(row.Start, row.Start+row.Duration)
		fragments = append(fragments, ingest.TextFragment{
			Text:       text,
			Annotation: &ingest.Annotation{Timestamp: &label},
		})
	}
	return ingest.ExtractResult{Fragments: fragments}, nil
}

func formatRange(startSec, endSec float64) string {
	return formatTimestamp(startSec) + "-" + formatTimestamp(endSec)
}

func formatTimestamp(sec float64) string {
	total := int(sec)
	return strconv.Itoa(total/60) + ":" + fmt.Sprintf("%02d", total%60)
}

func videoIDFromURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return "", errors.New("invalid youtube url")
	}
	if id := parsed.Query().Get("v"); id != "" {
		return id, nil
	}
	if strings.Contains(parsed.Host, "youtu.be") {
		id := strings.Trim(parsed.Path, "/")
		if id != "" {
			return id, nil
		}
	}
	return "", errors.New("could not determine video id")
}

var _ ingest.Extractor = (*YouTubeExtractor)(nil)
