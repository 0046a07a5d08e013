package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ChatMessage is one role-tagged message sent to the generation provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxInputTokens int
	MaxBatchSize   int
}

// ErrPermanent marks provider failures that must not be retried: malformed
// input, auth failures, oversized items. Transient failures (timeouts, 429,
// 5xx) are retried with exponential backoff up to the configured budget.
var ErrPermanent = errors.New("permanent provider error")

type OpenAICompatibleClient struct {
	httpClient *http.Client
	maxRetries uint64
}

func NewOpenAICompatibleClient(maxRetries int) *OpenAICompatibleClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		maxRetries: uint64(maxRetries),
	}
}

// statusError carries the provider status code so retry classification can
// distinguish rate limits and server errors from bad requests.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	// Caller cancellation must abort, not sleep through the backoff schedule.
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Network-level failures (timeouts, resets) are transient.
	return !errors.Is(err, ErrPermanent)
}

// withRetry runs op with exponential backoff on transient errors. Permanent
// errors propagate immediately, and a done ctx stops the schedule between
// attempts.
func (c *OpenAICompatibleClient) withRetry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}
