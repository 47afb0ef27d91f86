// Package clients holds HTTP clients for the external collaborators workflow
// nodes call out to: an OpenAI-compatible chat API and arbitrary proxied
// endpoints.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/weftwork/weft/pkg/log"
)

const (
	defaultChatEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultChatModel    = "gpt-4o-mini"
)

// LLMClient completes a prompt against a chat model.
type LLMClient interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

// ChatClient talks to an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewChatClient creates a chat client. endpoint may be empty to use the
// OpenAI default; apiKey must be set before any call succeeds.
func NewChatClient(endpoint, apiKey string) *ChatClient {
	if endpoint == "" {
		endpoint = defaultChatEndpoint
	}

	return &ChatClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   log.WithModule("clients"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt as a single user message and returns the first
// choice's content.
func (c *ChatClient) Complete(ctx context.Context, prompt, model string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("chat API key is not configured")
	}

	if model == "" {
		model = defaultChatModel
	}

	payload, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close chat response", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}

		return "", fmt.Errorf("chat API returned status %d", resp.StatusCode)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
