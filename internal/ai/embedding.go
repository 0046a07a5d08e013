package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"founderos-knowledge/internal/chunker"
)

// EmbeddingClient wraps the embedding provider with batching, retry/backoff
// and rate limiting. Batch results always preserve input order.
type EmbeddingClient struct {
	client  *OpenAICompatibleClient
	cfg     EmbeddingConfig
	limiter *rate.Limiter
}

func NewEmbeddingClient(client *OpenAICompatibleClient, cfg EmbeddingConfig, requestsPerSecond float64) *EmbeddingClient {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &EmbeddingClient{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Embed returns the embedding vector for a single text.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-order. It fails fast, without calling
// the provider, if the batch is too large or any item exceeds the input
// token limit; the chunker's token budget keeps normal inputs under it.
func (e *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds provider limit %d", ErrPermanent, len(texts), e.cfg.MaxBatchSize)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: embedding input %d is empty", ErrPermanent, i)
		}
		if e.cfg.MaxInputTokens > 0 {
			n, err := chunker.CountTokens(t)
			if err != nil {
				return nil, err
			}
			if n > e.cfg.MaxInputTokens {
				return nil, fmt.Errorf("%w: input %d has %d tokens, provider limit %d", ErrPermanent, i, n, e.cfg.MaxInputTokens)
			}
		}
	}

	var result [][]float32
	err := e.client.withRetry(ctx, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		vecs, err := e.requestEmbeddings(ctx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *EmbeddingClient) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": e.cfg.Model,
		"input": texts,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal embedding request failed: %v", ErrPermanent, err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: build embedding request failed: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		serr := &statusError{status: resp.StatusCode, body: string(raw)}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %v", ErrPermanent, serr)
		}
		return nil, serr
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(parsed.Data))
	}

	result := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(result) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		result[item.Index] = item.Embedding
	}
	for i := range result {
		if len(result[i]) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
	}
	return result, nil
}
