package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

const conditionColumns = `
	id
  , transaction_id
  , transaction_step_id
  , offer_id
  , template_id
  , label_en
  , label_fr
  , level
  , is_blocking
  , source_type
  , status
  , resolution_type
  , note
  , archived
  , archived_step
  , step_when_created
  , step_when_resolved
  , escaped_without_proof
  , escape_reason
  , due_date
  , created_at
  , resolved_at
  , resolved_by
`

const insertConditionQuery = `
	INSERT INTO conditions (id, transaction_id, transaction_step_id, offer_id, template_id,
		label_en, label_fr, level, is_blocking, source_type, status, resolution_type, note,
		archived, archived_step, step_when_created, step_when_resolved,
		escaped_without_proof, escape_reason, due_date, created_at, resolved_at, resolved_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
`

// CreateCondition inserts a new condition row.
func (p *Persistence) CreateCondition(ctx context.Context, condition *models.Condition) error {
	err := p.prepareCondition(condition)
	if err != nil {
		return err
	}

	_, err = p.q.ExecContext(ctx, insertConditionQuery, conditionArgs(condition)...)
	if err != nil {
		return fmt.Errorf("failed to insert condition: %w", err)
	}

	return nil
}

// CreateTemplateCondition inserts a template-derived condition unless one
// already exists for (transaction, template). The partial unique index makes
// the guard hold under concurrent instantiation paths.
func (p *Persistence) CreateTemplateCondition(ctx context.Context, condition *models.Condition) (bool, error) {
	err := p.prepareCondition(condition)
	if err != nil {
		return false, err
	}

	query := insertConditionQuery + `
	ON CONFLICT (transaction_id, template_id) WHERE template_id IS NOT NULL DO NOTHING
	`

	result, err := p.q.ExecContext(ctx, query, conditionArgs(condition)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert template condition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (p *Persistence) prepareCondition(condition *models.Condition) error {
	if condition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate condition ID: %w", err)
		}

		condition.ID = id.String()
	}

	if condition.CreatedAt.IsZero() {
		condition.CreatedAt = time.Now().UTC()
	}

	return nil
}

func conditionArgs(c *models.Condition) []any {
	return []any{
		c.ID,
		c.TransactionID,
		c.StepID,
		c.OfferID,
		c.TemplateID,
		c.LabelEN,
		c.LabelFR,
		c.Level,
		c.IsBlocking,
		c.SourceType,
		c.Status,
		c.ResolutionType,
		c.Note,
		c.Archived,
		c.ArchivedStep,
		c.StepWhenCreated,
		c.StepWhenResolved,
		c.EscapedWithoutProof,
		c.EscapeReason,
		c.DueDate,
		c.CreatedAt,
		c.ResolvedAt,
		c.ResolvedBy,
	}
}

// ConditionByID returns a condition by its ID.
func (p *Persistence) ConditionByID(ctx context.Context, id string) (*models.Condition, error) {
	query := `SELECT ` + conditionColumns + ` FROM conditions WHERE id = $1`

	condition, err := scanCondition(p.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConditionNotFound
		}

		return nil, fmt.Errorf("failed to scan condition: %w", err)
	}

	return condition, nil
}

// UpdateCondition updates the mutable fields of a condition.
func (p *Persistence) UpdateCondition(ctx context.Context, condition *models.Condition) error {
	query := `
		UPDATE conditions
		SET status = $2, resolution_type = $3, note = $4, archived = $5, archived_step = $6,
			step_when_resolved = $7, escaped_without_proof = $8, escape_reason = $9,
			resolved_at = $10, resolved_by = $11
		WHERE id = $1
	`

	result, err := p.q.ExecContext(ctx, query,
		condition.ID,
		condition.Status,
		condition.ResolutionType,
		condition.Note,
		condition.Archived,
		condition.ArchivedStep,
		condition.StepWhenResolved,
		condition.EscapedWithoutProof,
		condition.EscapeReason,
		condition.ResolvedAt,
		condition.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update condition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrConditionNotFound
	}

	return nil
}

// ConditionsByTransaction returns all conditions of a transaction.
func (p *Persistence) ConditionsByTransaction(ctx context.Context, transactionID string) ([]*models.Condition, error) {
	query := `SELECT ` + conditionColumns + ` FROM conditions WHERE transaction_id = $1 ORDER BY created_at`

	return p.queryConditions(ctx, query, transactionID)
}

// ConditionsByStep returns all conditions attached to a transaction step.
func (p *Persistence) ConditionsByStep(ctx context.Context, stepID string) ([]*models.Condition, error) {
	query := `SELECT ` + conditionColumns + ` FROM conditions WHERE transaction_step_id = $1 ORDER BY created_at`

	return p.queryConditions(ctx, query, stepID)
}

// PendingBlockingConditions returns non-archived pending conditions with an
// effective blocking level for a step. The legacy is_blocking fallback applies
// when level is null.
func (p *Persistence) PendingBlockingConditions(ctx context.Context, stepID string) ([]*models.Condition, error) {
	query := `SELECT ` + conditionColumns + `
		FROM conditions
		WHERE transaction_step_id = $1
		  AND archived = FALSE
		  AND status <> 'completed'
		  AND (level = 'blocking' OR (level IS NULL AND is_blocking = TRUE))
		ORDER BY created_at`

	return p.queryConditions(ctx, query, stepID)
}

// DueConditions returns pending, non-archived conditions whose due date is on
// or before the given time.
func (p *Persistence) DueConditions(ctx context.Context, by time.Time) ([]*models.Condition, error) {
	query := `SELECT ` + conditionColumns + `
		FROM conditions
		WHERE archived = FALSE
		  AND status <> 'completed'
		  AND due_date IS NOT NULL
		  AND due_date <= $1
		ORDER BY due_date`

	return p.queryConditions(ctx, query, by)
}

func (p *Persistence) queryConditions(ctx context.Context, query string, args ...any) ([]*models.Condition, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditions: %w", err)
	}

	defer p.closeRows(ctx, rows)

	conditions := make([]*models.Condition, 0)

	for rows.Next() {
		condition, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}

		conditions = append(conditions, condition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating conditions: %w", err)
	}

	return conditions, nil
}

func scanCondition(scanner interface{ Scan(dest ...any) error }) (*models.Condition, error) {
	var (
		condition      models.Condition
		level          sql.NullString
		resolutionType sql.NullString
	)

	err := scanner.Scan(
		&condition.ID,
		&condition.TransactionID,
		&condition.StepID,
		&condition.OfferID,
		&condition.TemplateID,
		&condition.LabelEN,
		&condition.LabelFR,
		&level,
		&condition.IsBlocking,
		&condition.SourceType,
		&condition.Status,
		&resolutionType,
		&condition.Note,
		&condition.Archived,
		&condition.ArchivedStep,
		&condition.StepWhenCreated,
		&condition.StepWhenResolved,
		&condition.EscapedWithoutProof,
		&condition.EscapeReason,
		&condition.DueDate,
		&condition.CreatedAt,
		&condition.ResolvedAt,
		&condition.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if level.Valid && level.String != "" {
		l := models.ConditionLevel(level.String)
		condition.Level = &l
	}

	if resolutionType.Valid {
		condition.ResolutionType = models.ResolutionType(resolutionType.String)
	}

	return &condition, nil
}

// AppendConditionEvent writes one append-only audit entry.
func (p *Persistence) AppendConditionEvent(ctx context.Context, event *models.ConditionEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate condition event ID: %w", err)
		}

		event.ID = id.String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO condition_events (id, condition_id, event_type, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = p.q.ExecContext(ctx, query,
		event.ID,
		event.ConditionID,
		event.EventType,
		event.Actor,
		metadataJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert condition event: %w", err)
	}

	return nil
}

// ConditionEvents returns the audit trail of a condition, oldest first.
func (p *Persistence) ConditionEvents(ctx context.Context, conditionID string) ([]*models.ConditionEvent, error) {
	query := `
		SELECT id, condition_id, event_type, actor, metadata, created_at
		FROM condition_events
		WHERE condition_id = $1
		ORDER BY created_at
	`

	rows, err := p.q.QueryContext(ctx, query, conditionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query condition events: %w", err)
	}

	defer p.closeRows(ctx, rows)

	events := make([]*models.ConditionEvent, 0)

	for rows.Next() {
		var (
			event        models.ConditionEvent
			metadataJSON []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.ConditionID,
			&event.EventType,
			&event.Actor,
			&metadataJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition event: %w", err)
		}

		if metadataJSON != nil {
			err := json.Unmarshal(metadataJSON, &event.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}

		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating condition events: %w", err)
	}

	return events, nil
}
