// Package cmd holds shared construction helpers for the weft binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weftwork/weft/pkg/persistence"
	"github.com/weftwork/weft/pkg/persistence/file"
	"github.com/weftwork/weft/pkg/persistence/postgresql"
)

// NewPersistence builds the ledger backend from a database URL. A
// postgres:// or postgresql:// URL selects PostgreSQL, a file:// URL (or a
// bare path) the JSON file store used in development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgresql persistence: %w", err)
		}

		return store, nil
	default:
		root := strings.TrimPrefix(databaseURL, "file://")

		store, err := file.NewPersistence(root)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file persistence: %w", err)
		}

		return store, nil
	}
}
