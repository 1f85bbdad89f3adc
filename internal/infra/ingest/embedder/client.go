// Package embedder implements the Embedding Client: an HTTP client for a
// remote embeddings API, generalized from the teacher's ChatGPT chat
// completion client into an embeddings-only call, wrapped with rate
// limiting and typed-error retry.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

const defaultBaseURL = "https://api.openai.com/v1"

// embeddingRequest is the payload sent to the embeddings endpoint.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse captures the response shape.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// RetryPolicy controls the exponential backoff applied to retryable
// embedding-client errors.
type RetryPolicy struct {
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultRetryPolicy matches the spec's backoff schedule: base 500ms,
// factor 2, cap 30s, 5 attempts (the first try plus 4 retries).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 500 * time.Millisecond, Factor: 2, MaxDelay: 30 * time.Second, MaxRetries: 4}
}

// Client calls a remote embeddings API over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
}

// NewClient constructs an embedding client. requestsPerSecond sizes the
// token-bucket rate limiter guarding the remote API's quota.
func NewClient(apiKey, baseURL, model string, requestsPerSecond float64) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("embedder api key cannot be empty")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), int(math.Ceil(requestsPerSecond))),
		retry:      DefaultRetryPolicy(),
	}, nil
}

// Embed implements ingest.Embedder: input order equals output order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.retry, attempt)
			var embedErr *ingest.EmbedError
			if errors.As(lastErr, &embedErr) && embedErr.RetryAfter > 0 {
				delay = embedErr.RetryAfter
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := c.doEmbed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		var embedErr *ingest.EmbedError
		if !errors.As(err, &embedErr) || !embedErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * math.Pow(policy.Factor, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	jitter := 1 + (rand.Float64()-0.5)*0.2
	return time.Duration(delay * jitter)
}

func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, &ingest.EmbedError{Code: ingest.EmbedErrorClient, Err: fmt.Errorf("encode embedding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &ingest.EmbedError{Code: ingest.EmbedErrorClient, Err: fmt.Errorf("build embedding request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		code := ingest.EmbedErrorNetwork
		if ctx.Err() != nil {
			code = ingest.EmbedErrorTimeout
		}
		return nil, &ingest.EmbedError{Code: code, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ingest.EmbedError{Code: ingest.EmbedErrorNetwork, Err: err}
	}

	var out embeddingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ingest.EmbedError{Code: ingest.EmbedErrorServer, Err: fmt.Errorf("decode embedding response: %w", err)}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			continue
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func classifyStatus(status int, retryAfterHeader, body string) *ingest.EmbedError {
	var retryAfter time.Duration
	if secs, err := time.ParseDuration(retryAfterHeader + "s"); err == nil {
		retryAfter = secs
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &ingest.EmbedError{Code: ingest.EmbedErrorRateLimited, RetryAfter: retryAfter, Err: fmt.Errorf("status=%d body=%s", status, body)}
	case status >= 500:
		return &ingest.EmbedError{Code: ingest.EmbedErrorServer, Err: fmt.Errorf("status=%d body=%s", status, body)}
	default:
		return &ingest.EmbedError{Code: ingest.EmbedErrorClient, Err: fmt.Errorf("status=%d body=%s", status, body)}
	}
}

var _ ingest.Embedder = (*Client)(nil)
