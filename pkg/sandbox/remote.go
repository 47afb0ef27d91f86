package sandbox

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

// RemoteExecutor runs snippets on a remote isolation service speaking the
// lambda-style contract: POST {"code": ..., "inputData": ...}, response
// either the result object directly or wrapped as {"statusCode", "body"}.
type RemoteExecutor struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewRemoteExecutor creates a remote executor for the given endpoint.
func NewRemoteExecutor(endpoint string) *RemoteExecutor {
	return &RemoteExecutor{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   log.WithModule("sandbox"),
	}
}

type remoteRequest struct {
	Code      string `json:"code"`
	InputData any    `json:"inputData"`
}

type remoteEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type remoteResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Output  string          `json:"output"`
	Stderr  string          `json:"stderr"`
	Error   string          `json:"error"`
}

// Execute submits the snippet to the remote service. Transport and protocol
// failures come back as plain errors; a well-formed unsuccessful response is
// a typed sandbox failure. The orchestrator falls back to local execution on
// either.
func (e *RemoteExecutor) Execute(ctx context.Context, code string, inputData any, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	payload, err := json.Marshal(remoteRequest{Code: code, InputData: inputData})
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote sandbox request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+hardKillGrace)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build remote sandbox request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote sandbox request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.logger.Warn("failed to close remote sandbox response", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote sandbox response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote sandbox returned status %d", resp.StatusCode)
	}

	return parseRemoteResult(raw)
}

func parseRemoteResult(raw []byte) (*Result, error) {
	// Unwrap the lambda proxy envelope when present.
	var envelope remoteEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.StatusCode != 0 && envelope.Body != "" {
		raw = []byte(envelope.Body)
	}

	var parsed remoteResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode remote sandbox result: %w", err)
	}

	if !parsed.Success {
		detail := parsed.Error
		if detail == "" {
			detail = parsed.Stderr
		}

		if strings.Contains(strings.ToLower(detail), "timed out") {
			return nil, newError(KindTimeout, "%s", detail)
		}

		return nil, newError(KindRuntimeFault, "%s", detail)
	}

	var value any
	if len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, &value); err != nil {
			return nil, newError(KindMalformedResult, "remote sandbox result is not valid JSON: %v", err)
		}
	}

	return &Result{
		Value:  value,
		Output: parsed.Output,
		Stderr: parsed.Stderr,
	}, nil
}
