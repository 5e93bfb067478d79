// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/persistence/memory"
	"github.com/closewise/closewise/pkg/persistence/postgresql"
)

// NewPersistence creates a repository based on the database URL scheme.
// Panics on unreachable or unsupported stores; binaries have nothing useful
// to do without one.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Repository {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		repo, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return repo
	case databaseURL == "memory://":
		return memory.NewPersistence()
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
