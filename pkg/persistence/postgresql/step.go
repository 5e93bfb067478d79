package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

const stepColumns = `
	id
  , transaction_id
  , step_order
  , name
  , status
  , entered_at
  , completed_at
`

// CreateSteps bulk-inserts transaction steps. A collision on
// (transaction_id, step_order) surfaces as ErrStepOrderConflict.
func (p *Persistence) CreateSteps(ctx context.Context, steps []*models.TransactionStep) error {
	query := `
		INSERT INTO transaction_steps (id, transaction_id, step_order, name, status, entered_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, step := range steps {
		if step.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate step ID: %w", err)
			}

			step.ID = id.String()
		}

		_, err := p.q.ExecContext(ctx, query,
			step.ID,
			step.TransactionID,
			step.StepOrder,
			step.Name,
			step.Status,
			step.EnteredAt,
			step.CompletedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Constraint == "uq_transaction_step_order" {
				return persistence.ErrStepOrderConflict
			}

			return fmt.Errorf("failed to insert step: %w", err)
		}
	}

	return nil
}

// StepByID returns a step by its ID.
func (p *Persistence) StepByID(ctx context.Context, id string) (*models.TransactionStep, error) {
	query := `SELECT ` + stepColumns + ` FROM transaction_steps WHERE id = $1`

	return p.scanStepRow(p.q.QueryRowContext(ctx, query, id))
}

// LockStep re-reads a step for update within the current unit of work.
func (p *Persistence) LockStep(ctx context.Context, id string) (*models.TransactionStep, error) {
	query := `SELECT ` + stepColumns + ` FROM transaction_steps WHERE id = $1`
	if p.tx != nil {
		query += " FOR UPDATE"
	}

	return p.scanStepRow(p.q.QueryRowContext(ctx, query, id))
}

// StepsByTransaction returns all steps of a transaction ordered by step order.
func (p *Persistence) StepsByTransaction(ctx context.Context, transactionID string) ([]*models.TransactionStep, error) {
	query := `SELECT ` + stepColumns + ` FROM transaction_steps WHERE transaction_id = $1 ORDER BY step_order`

	rows, err := p.q.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer p.closeRows(ctx, rows)

	steps := make([]*models.TransactionStep, 0)

	for rows.Next() {
		var step models.TransactionStep

		err := rows.Scan(
			&step.ID,
			&step.TransactionID,
			&step.StepOrder,
			&step.Name,
			&step.Status,
			&step.EnteredAt,
			&step.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// StepByOrder returns the step of a transaction with the given order.
func (p *Persistence) StepByOrder(ctx context.Context, transactionID string, order int) (*models.TransactionStep, error) {
	query := `SELECT ` + stepColumns + ` FROM transaction_steps WHERE transaction_id = $1 AND step_order = $2`

	return p.scanStepRow(p.q.QueryRowContext(ctx, query, transactionID, order))
}

// UpdateStep updates a step's status and timestamps.
func (p *Persistence) UpdateStep(ctx context.Context, step *models.TransactionStep) error {
	query := `
		UPDATE transaction_steps
		SET status = $2, entered_at = $3, completed_at = $4
		WHERE id = $1
	`

	result, err := p.q.ExecContext(ctx, query, step.ID, step.Status, step.EnteredAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrStepNotFound
	}

	return nil
}

func (p *Persistence) scanStepRow(row *sql.Row) (*models.TransactionStep, error) {
	var step models.TransactionStep

	err := row.Scan(
		&step.ID,
		&step.TransactionID,
		&step.StepOrder,
		&step.Name,
		&step.Status,
		&step.EnteredAt,
		&step.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepNotFound
		}

		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	return &step, nil
}
