package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heraldflow/herald/pkg/persistence"
	"github.com/heraldflow/herald/pkg/persistence/file"
	"github.com/heraldflow/herald/pkg/persistence/postgresql"
)

// NewPersistence selects the store implementation from the database URL
// scheme: postgres for production, a file root for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgres persistence: %w", err))
		}

		return store
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
