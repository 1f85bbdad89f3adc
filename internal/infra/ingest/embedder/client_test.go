package embedder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientEmbedReturnsVectorsInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(len(text))}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c, err := NewClient("test-key", server.URL, "text-embedding-3-small", 100)
	require.NoError(t, err)

	vectors, err := c.Embed(t.Context(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Equal(t, []float32{2}, vectors[0])
	require.Equal(t, []float32{4}, vectors[1])
}

func TestClientEmbedEmptyInputShortCircuits(t *testing.T) {
	c, err := NewClient("test-key", "", "text-embedding-3-small", 1)
	require.NoError(t, err)

	vectors, err := c.Embed(t.Context(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestClientEmbedRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(embeddingResponse{Data: []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{{Index: 0, Embedding: []float32{1, 2, 3}}}}))
	}))
	defer server.Close()

	c, err := NewClient("test-key", server.URL, "text-embedding-3-small", 100)
	require.NoError(t, err)
	c.retry = RetryPolicy{BaseDelay: 0, Factor: 2, MaxDelay: 0, MaxRetries: 3}

	vectors, err := c.Embed(t.Context(), []string{"hello"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 2, 3}}, vectors)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientEmbedDoesNotRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c, err := NewClient("test-key", server.URL, "text-embedding-3-small", 100)
	require.NoError(t, err)
	c.retry = RetryPolicy{BaseDelay: 0, Factor: 2, MaxDelay: 0, MaxRetries: 3}

	_, err = c.Embed(t.Context(), []string{"hello"})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewClientRejectsEmptyAPIKey(t *testing.T) {
	_, err := NewClient("", "", "text-embedding-3-small", 1)
	require.Error(t, err)
}
