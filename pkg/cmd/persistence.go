package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/persistence/memory"
	"github.com/beaconcrm/journey/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence layer for a database URL. The URL
// scheme selects the implementation: postgres:// for PostgreSQL, memory://
// for the in-memory store used in development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	case "memory":
		return memory.NewPersistence()
	default:
		panic("unsupported database URL: " + databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
