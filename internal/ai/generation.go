package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GenerationClient drives the generation provider's token stream. A stream
// is finite and not restartable mid-flight: retries only cover the initial
// request, never a stream that already produced deltas.
type GenerationClient struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
}

func NewGenerationClient(client *OpenAICompatibleClient, cfg ChatConfig) *GenerationClient {
	return &GenerationClient{client: client, cfg: cfg}
}

// Stream sends messages to the provider and invokes onDelta for every text
// fragment in generation order. It returns the full concatenated text.
// Cancelling ctx aborts the underlying request.
func (g *GenerationClient) Stream(
	ctx context.Context,
	messages []ChatMessage,
	onDelta func(delta string) error,
) (string, error) {
	var full string
	err := g.client.withRetry(ctx, func() error {
		text, begun, err := g.streamOnce(ctx, messages, onDelta)
		if err != nil {
			if begun {
				// Deltas already went out; restarting would re-emit text.
				return fmt.Errorf("%w: stream failed after partial output: %v", ErrPermanent, err)
			}
			return err
		}
		full = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return full, nil
}

func (g *GenerationClient) streamOnce(
	ctx context.Context,
	messages []ChatMessage,
	onDelta func(delta string) error,
) (string, bool, error) {
	reqBody := map[string]interface{}{
		"model":       g.cfg.Model,
		"messages":    messages,
		"stream":      true,
		"temperature": g.cfg.Temperature,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("%w: marshal generation request failed: %v", ErrPermanent, err)
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", false, fmt.Errorf("%w: build generation request failed: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		serr := &statusError{status: resp.StatusCode, body: string(raw)}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return "", false, fmt.Errorf("%w: %v", ErrPermanent, serr)
		}
		return "", false, serr
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var (
		fullText strings.Builder
		started  bool
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		// Malformed lines are skipped rather than aborting the stream.
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		started = true
		fullText.WriteString(text)
		if err := onDelta(text); err != nil {
			return "", started, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", started, fmt.Errorf("scan generation stream failed: %w", err)
	}
	return fullText.String(), started, nil
}
