package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

func TestRegistryRegisterAndFor(t *testing.T) {
	r := NewRegistry()
	pt := NewPlaintextExtractor()
	r.Register(pt)

	got, ok := r.For(ingest.SourceKindUpload)
	require.True(t, ok)
	require.Same(t, pt, got)

	_, ok = r.For(ingest.SourceKindYouTube)
	require.False(t, ok)
}

func TestPlaintextExtractorSplitsParagraphs(t *testing.T) {
	e := NewPlaintextExtractor()
	out, err := e.Run(context.Background(), ingest.ExtractSource{Bytes: []byte("first\n\nsecond")})
	require.NoError(t, err)
	require.Len(t, out.Fragments, 2)
	require.Equal(t, "first", out.Fragments[0].Text)
	require.Equal(t, "second", out.Fragments[1].Text)
}

func TestPlaintextExtractorRejectsEmptySource(t *testing.T) {
	e := NewPlaintextExtractor()
	_, err := e.Run(context.Background(), ingest.ExtractSource{})
	require.Error(t, err)
	var extractErr *ingest.ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, ingest.ExtractErrCorruptSource, extractErr.Code)
}

func TestPlaintextExtractorRejectsBinary(t *testing.T) {
	e := NewPlaintextExtractor()
	_, err := e.Run(context.Background(), ingest.ExtractSource{Bytes: []byte{0x00, 0x01, 0x02}})
	require.Error(t, err)
	var extractErr *ingest.ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, ingest.ExtractErrUnsupportedFormat, extractErr.Code)
}

func TestHTMLExtractorConvertsArticleToFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>My Article</title></head><body><article><h1>My Article</h1><p>` +
			`This is a long enough paragraph of real article text to survive readability extraction heuristics ` +
			`without being discarded as boilerplate content on the page.</p></article></body></html>`))
	}))
	defer server.Close()

	e := NewHTMLExtractor()
	out, err := e.Run(context.Background(), ingest.ExtractSource{URL: server.URL})
	require.NoError(t, err)
	require.NotEmpty(t, out.Fragments)
}

func TestHTMLExtractorRejectsUnsupportedScheme(t *testing.T) {
	e := NewHTMLExtractor()
	_, err := e.Run(context.Background(), ingest.ExtractSource{URL: "ftp://example.com/file"})
	require.Error(t, err)
	var extractErr *ingest.ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, ingest.ExtractErrUnsupportedFormat, extractErr.Code)
}

func TestHTMLExtractorMapsNotFoundToSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := NewHTMLExtractor()
	_, err := e.Run(context.Background(), ingest.ExtractSource{URL: server.URL})
	require.Error(t, err)
	var extractErr *ingest.ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, ingest.ExtractErrSourceUnavailable, extractErr.Code)
}

func TestYouTubeExtractorParsesTimedText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<transcript><text start="0" dur="2.5">Hello there</text><text start="2.5" dur="3">General Kenobi</text></transcript>`))
	}))
	defer server.Close()

	e := &YouTubeExtractor{httpClient: server.Client(), baseURL: server.URL}

	out, err := e.Run(context.Background(), ingest.ExtractSource{URL: "https://www.youtube.com/watch?v=abc123"})
	require.NoError(t, err)
	require.Len(t, out.Fragments, 2)
	require.Equal(t, "Hello there", out.Fragments[0].Text)
	require.NotNil(t, out.Fragments[0].Annotation)
	require.Equal(t, "0:00-0:02", *out.Fragments[0].Annotation.Timestamp)
}

func TestVideoIDFromURL(t *testing.T) {
	id, err := videoIDFromURL("https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", id)

	id, err = videoIDFromURL("https://youtu.be/xyz789")
	require.NoError(t, err)
	require.Equal(t, "xyz789", id)

	_, err = videoIDFromURL("not a url")
	require.Error(t, err)
}
