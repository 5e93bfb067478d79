package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// CreateTransaction inserts a new transaction row.
func (p *Persistence) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	now := time.Now().UTC()

	if transaction.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate transaction ID: %w", err)
		}

		transaction.ID = id.String()
	}

	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = now
	}

	transaction.UpdatedAt = now

	query := `
		INSERT INTO transactions (id, type, workflow_template_id, current_step_id, status, owner, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := p.q.ExecContext(ctx, query,
		transaction.ID,
		transaction.Type,
		transaction.WorkflowTemplateID,
		transaction.CurrentStepID,
		transaction.Status,
		transaction.Owner,
		transaction.CreatedAt,
		transaction.UpdatedAt,
		transaction.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// TransactionByID returns a transaction by its ID.
func (p *Persistence) TransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `
		SELECT
			id
		  , type
		  , workflow_template_id
		  , current_step_id
		  , status
		  , owner
		  , created_at
		  , updated_at
		  , deleted_at
		FROM transactions
		WHERE id = $1 AND deleted_at IS NULL
	`

	var transaction models.Transaction

	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&transaction.ID,
		&transaction.Type,
		&transaction.WorkflowTemplateID,
		&transaction.CurrentStepID,
		&transaction.Status,
		&transaction.Owner,
		&transaction.CreatedAt,
		&transaction.UpdatedAt,
		&transaction.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTransactionNotFound
		}

		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	return &transaction, nil
}

// UpdateTransaction updates the mutable fields of a transaction.
func (p *Persistence) UpdateTransaction(ctx context.Context, transaction *models.Transaction) error {
	transaction.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE transactions
		SET current_step_id = $2, status = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := p.q.ExecContext(ctx, query,
		transaction.ID,
		transaction.CurrentStepID,
		transaction.Status,
		transaction.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrTransactionNotFound
	}

	return nil
}
