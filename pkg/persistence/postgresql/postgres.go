// Package postgresql provides the PostgreSQL persistence implementation for
// transactions, steps, conditions, and offers.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/persistence/sqlbase"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements persistence.Repository for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	q      querier
	tx     *sql.Tx
	logger *slog.Logger
}

// NewPersistence connects, runs migrations, and returns the repository.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		q:      database,
		logger: logger,
	}, nil
}

// Transactional runs fn against a repository bound to one database
// transaction. Nested calls join the enclosing transaction.
func (p *Persistence) Transactional(ctx context.Context, fn func(ctx context.Context, repo persistence.Repository) error) error {
	if p.tx != nil {
		return fn(ctx, p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	bound := &Persistence{
		db:     p.db,
		q:      tx,
		tx:     tx,
		logger: p.logger,
	}

	err = fn(ctx, bound)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.tx != nil {
		return nil
	}

	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
