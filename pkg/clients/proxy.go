package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/weftwork/weft/pkg/log"
)

// ProxyResponse is the evaluated result of a proxied HTTP call.
type ProxyResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       any    `json:"body"`
	RawBody    string `json:"rawBody,omitempty"`
}

// HTTPProxy performs the HTTP call configured on a proxy node.
type HTTPProxy interface {
	Call(ctx context.Context, method, url string, headers map[string]string, body any) (*ProxyResponse, error)
}

// ProxyClient is the default HTTPProxy backed by net/http.
type ProxyClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewProxyClient creates a proxy client with a 30-second timeout.
func NewProxyClient() *ProxyClient {
	return &ProxyClient{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.WithModule("clients"),
	}
}

// Call performs the request. JSON response bodies come back decoded; anything
// else is returned as the raw text.
func (c *ProxyClient) Call(ctx context.Context, method, targetURL string, headers map[string]string, body any) (*ProxyResponse, error) {
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)

	var reader io.Reader

	if body != nil && method != http.MethodGet {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode proxy request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy request: %w", err)
	}

	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close proxy response", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy response: %w", err)
	}

	result := &ProxyResponse{StatusCode: resp.StatusCode}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		result.Body = decoded
	} else {
		result.RawBody = string(raw)
	}

	return result, nil
}
