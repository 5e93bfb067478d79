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

// SaveWorkflowTemplate upserts a workflow template with its steps, default
// conditions, and automations in one transaction.
func (p *Persistence) SaveWorkflowTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	return p.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		bound, ok := repo.(*Persistence)
		if !ok {
			return errors.New("unexpected repository type")
		}

		return bound.saveWorkflowTemplate(ctx, template)
	})
}

func (p *Persistence) saveWorkflowTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template ID: %w", err)
		}

		template.ID = id.String()
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	templateQuery := `
		INSERT INTO workflow_templates (id, name, description, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.q.ExecContext(ctx, templateQuery,
		template.ID,
		template.Name,
		template.Description,
		template.Type,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow template: %w", err)
	}

	_, err = p.q.ExecContext(ctx, "DELETE FROM workflow_template_steps WHERE template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing template steps: %w", err)
	}

	for _, step := range template.Steps {
		err := p.saveTemplateStep(ctx, template.ID, step)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Persistence) saveTemplateStep(ctx context.Context, templateID string, step *models.WorkflowStep) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template step ID: %w", err)
		}

		step.ID = id.String()
	}

	stepQuery := `
		INSERT INTO workflow_template_steps (id, template_id, step_order, name)
		VALUES ($1, $2, $3, $4)
	`

	_, err := p.q.ExecContext(ctx, stepQuery, step.ID, templateID, step.StepOrder, step.Name)
	if err != nil {
		return fmt.Errorf("failed to save template step: %w", err)
	}

	for _, condition := range step.Conditions {
		if condition.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate step condition ID: %w", err)
			}

			condition.ID = id.String()
		}

		conditionQuery := `
			INSERT INTO workflow_step_conditions (id, template_step_id, label_en, label_fr, level)
			VALUES ($1, $2, $3, $4, $5)
		`

		_, err := p.q.ExecContext(ctx, conditionQuery,
			condition.ID, step.ID, condition.LabelEN, condition.LabelFR, condition.Level)
		if err != nil {
			return fmt.Errorf("failed to save step condition: %w", err)
		}
	}

	for _, automation := range step.Automations {
		if automation.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate step automation ID: %w", err)
			}

			automation.ID = id.String()
		}

		configJSON, err := json.Marshal(automation.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal automation config: %w", err)
		}

		automationQuery := `
			INSERT INTO workflow_step_automations (id, template_step_id, trigger, type, config)
			VALUES ($1, $2, $3, $4, $5)
		`

		_, err = p.q.ExecContext(ctx, automationQuery,
			automation.ID, step.ID, automation.Trigger, automation.Type, configJSON)
		if err != nil {
			return fmt.Errorf("failed to save step automation: %w", err)
		}
	}

	return nil
}

// WorkflowTemplateByID returns a template with its steps, default conditions,
// and automations.
func (p *Persistence) WorkflowTemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `
		SELECT id, name, description, type, created_at, updated_at
		FROM workflow_templates
		WHERE id = $1
	`

	var template models.WorkflowTemplate

	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.Type,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow template: %w", err)
	}

	err = p.loadTemplateSteps(ctx, &template)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

func (p *Persistence) loadTemplateSteps(ctx context.Context, template *models.WorkflowTemplate) error {
	stepsQuery := `
		SELECT id, step_order, name
		FROM workflow_template_steps
		WHERE template_id = $1
		ORDER BY step_order
	`

	rows, err := p.q.QueryContext(ctx, stepsQuery, template.ID)
	if err != nil {
		return fmt.Errorf("failed to query template steps: %w", err)
	}

	defer p.closeRows(ctx, rows)

	var steps []*models.WorkflowStep

	for rows.Next() {
		var step models.WorkflowStep

		err := rows.Scan(&step.ID, &step.StepOrder, &step.Name)
		if err != nil {
			return fmt.Errorf("failed to scan template step: %w", err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating template steps: %w", err)
	}

	for _, step := range steps {
		err := p.loadStepConditions(ctx, step)
		if err != nil {
			return err
		}

		err = p.loadStepAutomations(ctx, step)
		if err != nil {
			return err
		}
	}

	template.Steps = steps

	return nil
}

func (p *Persistence) loadStepConditions(ctx context.Context, step *models.WorkflowStep) error {
	query := `
		SELECT id, label_en, label_fr, level
		FROM workflow_step_conditions
		WHERE template_step_id = $1
	`

	rows, err := p.q.QueryContext(ctx, query, step.ID)
	if err != nil {
		return fmt.Errorf("failed to query step conditions: %w", err)
	}

	defer p.closeRows(ctx, rows)

	for rows.Next() {
		var condition models.WorkflowStepCondition

		err := rows.Scan(&condition.ID, &condition.LabelEN, &condition.LabelFR, &condition.Level)
		if err != nil {
			return fmt.Errorf("failed to scan step condition: %w", err)
		}

		step.Conditions = append(step.Conditions, &condition)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating step conditions: %w", err)
	}

	return nil
}

func (p *Persistence) loadStepAutomations(ctx context.Context, step *models.WorkflowStep) error {
	query := `
		SELECT id, trigger, type, config
		FROM workflow_step_automations
		WHERE template_step_id = $1
	`

	rows, err := p.q.QueryContext(ctx, query, step.ID)
	if err != nil {
		return fmt.Errorf("failed to query step automations: %w", err)
	}

	defer p.closeRows(ctx, rows)

	for rows.Next() {
		var (
			automation models.WorkflowStepAutomation
			configJSON []byte
		)

		err := rows.Scan(&automation.ID, &automation.Trigger, &automation.Type, &configJSON)
		if err != nil {
			return fmt.Errorf("failed to scan step automation: %w", err)
		}

		if configJSON != nil {
			err := json.Unmarshal(configJSON, &automation.Config)
			if err != nil {
				return fmt.Errorf("failed to unmarshal automation config: %w", err)
			}
		}

		step.Automations = append(step.Automations, &automation)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating step automations: %w", err)
	}

	return nil
}

// SaveConditionTemplate upserts a condition template.
func (p *Persistence) SaveConditionTemplate(ctx context.Context, template *models.ConditionTemplate) error {
	now := time.Now().UTC()

	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate condition template ID: %w", err)
		}

		template.ID = id.String()
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	appliesJSON, err := json.Marshal(template.AppliesWhen)
	if err != nil {
		return fmt.Errorf("failed to marshal applies_when: %w", err)
	}

	query := `
		INSERT INTO condition_templates (id, label_en, label_fr, level, source_type, applies_when,
			step_order, deadline_ref, deadline_offset_days, active, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			label_en = EXCLUDED.label_en,
			label_fr = EXCLUDED.label_fr,
			level = EXCLUDED.level,
			source_type = EXCLUDED.source_type,
			applies_when = EXCLUDED.applies_when,
			step_order = EXCLUDED.step_order,
			deadline_ref = EXCLUDED.deadline_ref,
			deadline_offset_days = EXCLUDED.deadline_offset_days,
			active = EXCLUDED.active,
			is_default = EXCLUDED.is_default,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.q.ExecContext(ctx, query,
		template.ID,
		template.LabelEN,
		template.LabelFR,
		template.Level,
		template.SourceType,
		appliesJSON,
		template.StepOrder,
		template.DeadlineRef,
		template.DeadlineOffsetDays,
		template.Active,
		template.Default,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save condition template: %w", err)
	}

	return nil
}

// ActiveConditionTemplates returns all active condition templates.
func (p *Persistence) ActiveConditionTemplates(ctx context.Context) ([]*models.ConditionTemplate, error) {
	query := `
		SELECT id, label_en, label_fr, level, source_type, applies_when,
			step_order, deadline_ref, deadline_offset_days, active, is_default, created_at, updated_at
		FROM condition_templates
		WHERE active = TRUE
		ORDER BY created_at
	`

	rows, err := p.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query condition templates: %w", err)
	}

	defer p.closeRows(ctx, rows)

	templates := make([]*models.ConditionTemplate, 0)

	for rows.Next() {
		var (
			template    models.ConditionTemplate
			appliesJSON []byte
		)

		err := rows.Scan(
			&template.ID,
			&template.LabelEN,
			&template.LabelFR,
			&template.Level,
			&template.SourceType,
			&appliesJSON,
			&template.StepOrder,
			&template.DeadlineRef,
			&template.DeadlineOffsetDays,
			&template.Active,
			&template.Default,
			&template.CreatedAt,
			&template.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition template: %w", err)
		}

		if appliesJSON != nil {
			err := json.Unmarshal(appliesJSON, &template.AppliesWhen)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal applies_when: %w", err)
			}
		}

		templates = append(templates, &template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating condition templates: %w", err)
	}

	return templates, nil
}
