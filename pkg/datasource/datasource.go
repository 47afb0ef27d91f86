// Package datasource defines the external entity store collaborator used by
// fetch steps. The store itself lives outside this system; workflows only
// read row sets from it by entity id.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/weftwork/weft/pkg/log"
)

// DataSource lists the rows of an entity. Implementations are read-only.
type DataSource interface {
	List(ctx context.Context, entityID string) ([]map[string]any, error)
}

// HTTPDataSource reads rows from a remote entity store over HTTP.
type HTTPDataSource struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPDataSource creates a data source client for the given base URL.
func NewHTTPDataSource(baseURL string) *HTTPDataSource {
	return &HTTPDataSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithModule("datasource"),
	}
}

type listResponse struct {
	Rows []map[string]any `json:"rows"`
}

// List fetches the rows of the given entity.
func (s *HTTPDataSource) List(ctx context.Context, entityID string) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/entities/%s/rows", s.baseURL, url.PathEscape(entityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build data source request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("data source request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Warn("failed to close data source response", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read data source response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data source returned status %d for entity %s", resp.StatusCode, entityID)
	}

	// The store may answer either a bare row array or {"rows": [...]}.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []map[string]any
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode data source rows: %w", err)
		}

		return rows, nil
	}

	var parsed listResponse
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode data source response: %w", err)
	}

	return parsed.Rows, nil
}

// Static is an in-memory data source keyed by entity id, used in tests and
// local development.
type Static map[string][]map[string]any

func (s Static) List(ctx context.Context, entityID string) ([]map[string]any, error) {
	rows, ok := s[entityID]
	if !ok {
		return nil, fmt.Errorf("unknown entity %s", entityID)
	}

	return rows, nil
}
