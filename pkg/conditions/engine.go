// Package conditions implements condition template matching, pack loading,
// resolution policy enforcement, and archival on step transition.
package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// SystemActor attributes auto-resolutions performed by the engine itself.
const SystemActor = "system"

// minEscapeReasonLength is counted in runes so accented reasons are not
// penalized for their encoding.
const minEscapeReasonLength = 10

// Anchors are the reference dates due-date calculation runs against.
type Anchors struct {
	AcceptanceDate *time.Time `json:"acceptance_date,omitempty"`
	ClosingDate    *time.Time `json:"closing_date,omitempty"`
}

// PackResult reports what a pack load created.
type PackResult struct {
	Loaded int         `json:"loaded"`
	ByStep map[int]int `json:"by_step"`
}

// Resolution is one requested condition resolution.
type Resolution struct {
	ConditionID        string                `json:"condition_id"    validate:"required"`
	Type               models.ResolutionType `json:"resolution_type" validate:"required,oneof=completed waived not_applicable skipped_with_risk"`
	Note               string                `json:"note"`
	EscapeWithoutProof bool                  `json:"escape_without_proof"`
	EscapeReason       string                `json:"escape_reason"`
}

// AdvancementCheck is the read-only advancement oracle result. Callers never
// infer blocking state themselves.
type AdvancementCheck struct {
	CanAdvance         bool                `json:"can_advance"`
	Blocking           []*models.Condition `json:"blocking_conditions"`
	RequiredPending    []*models.Condition `json:"required_pending_conditions"`
	RecommendedPending []*models.Condition `json:"recommended_pending_conditions"`
}

// Engine orchestrates the condition lifecycle against the store.
type Engine struct {
	repo      persistence.Repository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewEngine(repo persistence.Repository, publisher eventbus.EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("module", "conditions"),
	}
}

// LoadPack instantiates every applicable active condition template for the
// transaction. Idempotent: templates already instantiated for this
// transaction are skipped, so redundant loads and concurrent instantiation
// paths never produce duplicates.
func (e *Engine) LoadPack(ctx context.Context, transactionID string, actor string, anchors Anchors) (*PackResult, error) {
	result := &PackResult{ByStep: make(map[int]int)}

	var created []*models.Condition

	err := e.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		facts, err := e.profileFacts(ctx, repo, transactionID)
		if err != nil {
			return err
		}

		templates, err := repo.ActiveConditionTemplates(ctx)
		if err != nil {
			return fmt.Errorf("failed to load condition templates: %w", err)
		}

		for _, template := range ApplicableTemplates(templates, facts, nil) {
			var step *models.TransactionStep

			if template.StepOrder != nil {
				step, err = repo.StepByOrder(ctx, transactionID, *template.StepOrder)
				if err != nil {
					if persistence.IsNotFound(err) {
						e.logger.WarnContext(ctx, "condition template targets a step the workflow does not have",
							"template_id", template.ID, "step_order", *template.StepOrder)

						continue
					}

					return err
				}
			}

			condition := conditionFromTemplate(transactionID, template, step, anchors)

			inserted, err := repo.CreateTemplateCondition(ctx, condition)
			if err != nil {
				return fmt.Errorf("failed to create condition from template %s: %w", template.ID, err)
			}

			if !inserted {
				continue
			}

			err = appendConditionEvent(ctx, repo, condition, models.ConditionEventCreated, actor, map[string]any{
				"source":      "pack",
				"template_id": template.ID,
				"level":       string(condition.EffectiveLevel()),
			})
			if err != nil {
				return err
			}

			result.Loaded++

			if step != nil {
				result.ByStep[step.StepOrder]++
			}

			created = append(created, condition)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, condition := range created {
		e.publishConditionCreated(ctx, condition, actor)
	}

	return result, nil
}

// CheckStepAdvancement partitions the step's pending, non-archived conditions
// by effective level.
func (e *Engine) CheckStepAdvancement(ctx context.Context, step *models.TransactionStep) (*AdvancementCheck, error) {
	conditions, err := e.repo.ConditionsByStep(ctx, step.ID)
	if err != nil {
		return nil, err
	}

	check := &AdvancementCheck{
		Blocking:           []*models.Condition{},
		RequiredPending:    []*models.Condition{},
		RecommendedPending: []*models.Condition{},
	}

	for _, condition := range conditions {
		if condition.Archived || !condition.Pending() {
			continue
		}

		switch condition.EffectiveLevel() {
		case models.LevelBlocking:
			check.Blocking = append(check.Blocking, condition)
		case models.LevelRequired:
			check.RequiredPending = append(check.RequiredPending, condition)
		case models.LevelRecommended:
			check.RecommendedPending = append(check.RecommendedPending, condition)
		}
	}

	check.CanAdvance = len(check.Blocking) == 0 && len(check.RequiredPending) == 0

	return check, nil
}

// Resolve applies a batch of resolutions. Every item is validated against the
// resolution policy before any is applied; one invalid item aborts the whole
// batch.
func (e *Engine) Resolve(ctx context.Context, resolutions []Resolution, actor string) ([]*models.Condition, error) {
	var resolved []*models.Condition

	err := e.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		conditions := make([]*models.Condition, len(resolutions))

		for i, resolution := range resolutions {
			condition, err := repo.ConditionByID(ctx, resolution.ConditionID)
			if err != nil {
				return err
			}

			err = validateResolution(condition, resolution)
			if err != nil {
				return err
			}

			conditions[i] = condition
		}

		for i, condition := range conditions {
			var stepOrder *int

			if condition.StepID != nil {
				step, err := repo.StepByID(ctx, *condition.StepID)
				if err != nil {
					return err
				}

				stepOrder = &step.StepOrder
			}

			err := resolveCondition(ctx, repo, condition, resolutions[i], actor, stepOrder)
			if err != nil {
				return err
			}

			resolved = append(resolved, condition)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, condition := range resolved {
		e.publishConditionCompleted(ctx, condition, actor)
	}

	return resolved, nil
}

// CreateManual creates one condition by hand at the transaction's current
// state. The persistence layer assigns identity and timestamps.
func (e *Engine) CreateManual(ctx context.Context, condition *models.Condition, actor string) (*models.Condition, error) {
	err := e.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		condition.Status = models.ConditionStatusPending
		condition.IsBlocking = condition.EffectiveLevel() == models.LevelBlocking

		if condition.StepID != nil {
			step, err := repo.StepByID(ctx, *condition.StepID)
			if err != nil {
				return err
			}

			condition.StepWhenCreated = &step.StepOrder
		}

		err := repo.CreateCondition(ctx, condition)
		if err != nil {
			return err
		}

		return appendConditionEvent(ctx, repo, condition, models.ConditionEventCreated, actor, map[string]any{
			"source": "manual",
			"level":  string(condition.EffectiveLevel()),
		})
	})
	if err != nil {
		return nil, err
	}

	e.publishConditionCreated(ctx, condition, actor)

	return condition, nil
}

// InstantiateStepConditions creates the conditions a step owes its existence
// to on entry: the workflow template's step defaults plus any active default
// condition templates scoped to this step order that match the transaction's
// profile. It runs inside the caller's unit of work and returns the created
// conditions so the caller can publish their events after commit. Creation is
// idempotent per (transaction, template) source.
func (e *Engine) InstantiateStepConditions(ctx context.Context, repo persistence.Repository, transactionID string, step *models.TransactionStep, templateStep *models.WorkflowStep, anchors Anchors, actor string) ([]*models.Condition, error) {
	var created []*models.Condition

	if templateStep != nil {
		for _, declared := range templateStep.Conditions {
			level := declared.Level
			templateID := declared.ID

			condition := &models.Condition{
				TransactionID:   transactionID,
				StepID:          &step.ID,
				TemplateID:      &templateID,
				LabelEN:         declared.LabelEN,
				LabelFR:         declared.LabelFR,
				Level:           &level,
				IsBlocking:      level == models.LevelBlocking,
				Status:          models.ConditionStatusPending,
				StepWhenCreated: &step.StepOrder,
			}

			inserted, err := repo.CreateTemplateCondition(ctx, condition)
			if err != nil {
				return nil, fmt.Errorf("failed to create step default condition: %w", err)
			}

			if !inserted {
				continue
			}

			err = appendConditionEvent(ctx, repo, condition, models.ConditionEventCreated, actor, map[string]any{
				"source":      "step_entry",
				"template_id": templateID,
				"level":       string(level),
			})
			if err != nil {
				return nil, err
			}

			created = append(created, condition)
		}
	}

	facts, err := e.profileFacts(ctx, repo, transactionID)
	if err != nil {
		return nil, err
	}

	templates, err := repo.ActiveConditionTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load condition templates: %w", err)
	}

	for _, template := range ApplicableTemplates(templates, facts, &step.StepOrder) {
		if !template.Default {
			continue
		}

		condition := conditionFromTemplate(transactionID, template, step, anchors)

		inserted, err := repo.CreateTemplateCondition(ctx, condition)
		if err != nil {
			return nil, fmt.Errorf("failed to create condition from template %s: %w", template.ID, err)
		}

		if !inserted {
			continue
		}

		err = appendConditionEvent(ctx, repo, condition, models.ConditionEventCreated, actor, map[string]any{
			"source":      "step_entry",
			"template_id": template.ID,
			"level":       string(condition.EffectiveLevel()),
		})
		if err != nil {
			return nil, err
		}

		created = append(created, condition)
	}

	return created, nil
}

// ArchiveOnStepChange runs the step-transition archival protocol against the
// outgoing step. Supplied resolutions are applied first; then every
// non-archived condition created at the step is checked: pending blocking or
// required conditions abort the transition, pending recommended conditions
// are auto-resolved as not applicable. Resolved conditions get their
// step-when-resolved stamped and every condition is archived against the
// incoming step. Runs inside the caller's unit of work; returns the
// conditions resolved during the call so their events can be published after
// commit.
//
// With bypass set (step skipping, offer-driven advancement) pending blocking
// and required conditions are not fatal; they are archived still pending and
// stay visible in the audit trail as unresolved.
func (e *Engine) ArchiveOnStepChange(ctx context.Context, repo persistence.Repository, fromStep *models.TransactionStep, toStep *models.TransactionStep, actor string, supplied []Resolution, bypass bool) ([]*models.Condition, error) {
	conditions, err := repo.ConditionsByStep(ctx, fromStep.ID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Condition, len(conditions))
	for _, condition := range conditions {
		byID[condition.ID] = condition
	}

	var resolved []*models.Condition

	for _, resolution := range supplied {
		condition, ok := byID[resolution.ConditionID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownResolutionCondition, resolution.ConditionID)
		}

		err = validateResolution(condition, resolution)
		if err != nil {
			return nil, err
		}

		err = resolveCondition(ctx, repo, condition, resolution, actor, &fromStep.StepOrder)
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, condition)
	}

	archivedStep := fromStep.StepOrder
	if toStep != nil {
		archivedStep = toStep.StepOrder
	}

	for _, condition := range conditions {
		if condition.Archived {
			continue
		}

		if condition.Pending() {
			switch condition.EffectiveLevel() {
			case models.LevelBlocking:
				if !bypass {
					return nil, newPolicyError(condition, ErrBlockingConditionsRemain)
				}
			case models.LevelRequired:
				if !bypass {
					return nil, newPolicyError(condition, ErrRequiredResolutionsNeeded)
				}
			case models.LevelRecommended:
				err = resolveCondition(ctx, repo, condition, Resolution{
					ConditionID: condition.ID,
					Type:        models.ResolutionNotApplicable,
					Note:        "Automatically resolved at step transition",
				}, SystemActor, &fromStep.StepOrder)
				if err != nil {
					return nil, err
				}

				resolved = append(resolved, condition)
			}
		}

		if condition.Status == models.ConditionStatusCompleted && condition.StepWhenResolved == nil {
			condition.StepWhenResolved = &fromStep.StepOrder
		}

		condition.Archived = true
		condition.ArchivedStep = &archivedStep

		err = repo.UpdateCondition(ctx, condition)
		if err != nil {
			return nil, err
		}

		err = appendConditionEvent(ctx, repo, condition, models.ConditionEventArchived, actor, map[string]any{
			"archived_step": archivedStep,
		})
		if err != nil {
			return nil, err
		}
	}

	return resolved, nil
}

// PublishResolved emits condition_completed events for conditions resolved
// inside an enclosing unit of work, once that work has committed.
func (e *Engine) PublishResolved(ctx context.Context, conditions []*models.Condition, actor string) {
	for _, condition := range conditions {
		e.publishConditionCompleted(ctx, condition, actor)
	}
}

// PublishCreated emits condition_created events for conditions created inside
// an enclosing unit of work, once that work has committed.
func (e *Engine) PublishCreated(ctx context.Context, conditions []*models.Condition, actor string) {
	for _, condition := range conditions {
		e.publishConditionCreated(ctx, condition, actor)
	}
}

func (e *Engine) profileFacts(ctx context.Context, repo persistence.Repository, transactionID string) (map[string]any, error) {
	profile, err := repo.ProfileByTransaction(ctx, transactionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return map[string]any{}, nil
		}

		return nil, err
	}

	return profile.Facts(), nil
}

func (e *Engine) publishConditionCreated(ctx context.Context, condition *models.Condition, actor string) {
	stepID := ""
	if condition.StepID != nil {
		stepID = *condition.StepID
	}

	templateID := ""
	if condition.TemplateID != nil {
		templateID = *condition.TemplateID
	}

	event := events.ConditionCreated{
		BaseEvent:   newBaseEvent(events.ConditionCreatedEvent, condition.TransactionID, actor),
		ConditionID: condition.ID,
		StepID:      stepID,
		TemplateID:  templateID,
		Level:       string(condition.EffectiveLevel()),
		Label:       condition.LabelEN,
	}

	err := e.publisher.Publish(ctx, condition.TransactionID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish condition created event",
			"condition_id", condition.ID, "error", err)
	}
}

func (e *Engine) publishConditionCompleted(ctx context.Context, condition *models.Condition, actor string) {
	event := events.ConditionCompleted{
		BaseEvent:      newBaseEvent(events.ConditionCompletedEvent, condition.TransactionID, actor),
		ConditionID:    condition.ID,
		ResolutionType: string(condition.ResolutionType),
		Note:           condition.Note,
	}

	err := e.publisher.Publish(ctx, condition.TransactionID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish condition completed event",
			"condition_id", condition.ID, "error", err)
	}
}

func newBaseEvent(eventType events.EventType, transactionID string, actor string) events.BaseEvent {
	return events.BaseEvent{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
		ActorID:       actor,
	}
}

func conditionFromTemplate(transactionID string, template *models.ConditionTemplate, step *models.TransactionStep, anchors Anchors) *models.Condition {
	level := template.Level
	templateID := template.ID

	condition := &models.Condition{
		TransactionID: transactionID,
		TemplateID:    &templateID,
		LabelEN:       template.LabelEN,
		LabelFR:       template.LabelFR,
		Level:         &level,
		IsBlocking:    level == models.LevelBlocking,
		SourceType:    template.SourceType,
		Status:        models.ConditionStatusPending,
	}

	var enteredAt *time.Time

	if step != nil {
		condition.StepID = &step.ID
		condition.StepWhenCreated = &step.StepOrder
		enteredAt = step.EnteredAt
	}

	condition.DueDate = dueDate(template, anchors, enteredAt)

	return condition
}

// dueDate computes the template's due date against its reference anchor, or
// nil when the anchor is not available.
func dueDate(template *models.ConditionTemplate, anchors Anchors, stepEnteredAt *time.Time) *time.Time {
	var anchor *time.Time

	switch template.DeadlineRef {
	case models.DeadlineFromAcceptance:
		anchor = anchors.AcceptanceDate
	case models.DeadlineFromClosing:
		anchor = anchors.ClosingDate
	case models.DeadlineFromStepEntry:
		anchor = stepEnteredAt
	default:
		return nil
	}

	if anchor == nil {
		return nil
	}

	due := anchor.AddDate(0, 0, template.DeadlineOffsetDays)

	return &due
}

// validateResolution enforces the resolution policy for one condition.
func validateResolution(condition *models.Condition, resolution Resolution) error {
	if condition.Archived {
		return newPolicyError(condition, ErrConditionArchived)
	}

	if !condition.Pending() {
		return newPolicyError(condition, ErrConditionAlreadyResolved)
	}

	switch condition.EffectiveLevel() {
	case models.LevelBlocking:
		if resolution.Type == models.ResolutionSkippedWithRisk {
			return newPolicyError(condition, ErrBlockingSkipWithRisk)
		}

		if resolution.EscapeWithoutProof && utf8.RuneCountInString(strings.TrimSpace(resolution.EscapeReason)) < minEscapeReasonLength {
			return newPolicyError(condition, ErrEscapeReasonTooShort)
		}
	case models.LevelRequired:
		if resolution.Type != models.ResolutionCompleted && strings.TrimSpace(resolution.Note) == "" {
			return newPolicyError(condition, ErrNoteRequired)
		}
	}

	return nil
}

// resolveCondition applies an already-validated resolution and writes its
// audit entry.
func resolveCondition(ctx context.Context, repo persistence.Repository, condition *models.Condition, resolution Resolution, actor string, stepOrder *int) error {
	now := time.Now().UTC()

	condition.Status = models.ConditionStatusCompleted
	condition.ResolutionType = resolution.Type
	condition.Note = resolution.Note
	condition.EscapedWithoutProof = resolution.EscapeWithoutProof
	condition.EscapeReason = resolution.EscapeReason
	condition.ResolvedAt = &now
	condition.ResolvedBy = actor

	if condition.StepWhenResolved == nil {
		condition.StepWhenResolved = stepOrder
	}

	err := repo.UpdateCondition(ctx, condition)
	if err != nil {
		return err
	}

	return appendConditionEvent(ctx, repo, condition, models.ConditionEventResolved, actor, map[string]any{
		"resolution_type": string(resolution.Type),
		"note":            resolution.Note,
	})
}

func appendConditionEvent(ctx context.Context, repo persistence.Repository, condition *models.Condition, eventType models.ConditionEventType, actor string, metadata map[string]any) error {
	err := repo.AppendConditionEvent(ctx, &models.ConditionEvent{
		ConditionID: condition.ID,
		EventType:   eventType,
		Actor:       actor,
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to append condition event: %w", err)
	}

	return nil
}
