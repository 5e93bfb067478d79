// Package workflow owns the step state machine for a transaction. It
// instantiates steps from a workflow template, advances, skips, and rewinds
// the current step, and triggers condition instantiation and side-effect
// automations on step entry and exit.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/automation"
	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// AdvanceOptions tunes one advancement request.
type AdvanceOptions struct {
	// SkipBlockingCheck bypasses the pending-blocking-conditions gate. Used by
	// the offer acceptance bridge, where acceptance is the domain trigger for
	// progression.
	SkipBlockingCheck bool
	// Resolutions are applied to the outgoing step's pending required
	// conditions before archival.
	Resolutions []conditions.Resolution
	// Anchors feed due-date calculation for the incoming step's conditions.
	Anchors conditions.Anchors
}

// Engine drives the transaction step state machine.
type Engine struct {
	repo        persistence.Repository
	conditions  *conditions.Engine
	automations *automation.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewEngine(repo persistence.Repository, conditionsEngine *conditions.Engine, automations *automation.Registry, publisher eventbus.EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		repo:        repo,
		conditions:  conditionsEngine,
		automations: automations,
		publisher:   publisher,
		logger:      logger.With("module", "workflow"),
	}
}

// CreateFromTemplate instantiates a transaction from a workflow template:
// one pending step per template step, the first step activated, its default
// conditions created, and its entry automations fired. The store writes run
// as a single unit of work; a transaction with steps but no active first step
// is an invalid state that must never be observable.
func (e *Engine) CreateFromTemplate(ctx context.Context, templateID string, owner string, actor string, anchors conditions.Anchors) (*models.Transaction, error) {
	var (
		transaction *models.Transaction
		firstStep   *models.TransactionStep
		template    *models.WorkflowTemplate
		created     []*models.Condition
	)

	err := e.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		var err error

		template, err = repo.WorkflowTemplateByID(ctx, templateID)
		if err != nil {
			return err
		}

		if len(template.Steps) == 0 {
			return fmt.Errorf("%w: %s", ErrTemplateHasNoSteps, template.ID)
		}

		transaction = &models.Transaction{
			Type:               template.Type,
			WorkflowTemplateID: template.ID,
			Status:             models.TransactionStatusActive,
			Owner:              owner,
		}

		err = repo.CreateTransaction(ctx, transaction)
		if err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		templateSteps := make([]*models.WorkflowStep, len(template.Steps))
		copy(templateSteps, template.Steps)
		sort.Slice(templateSteps, func(i, j int) bool {
			return templateSteps[i].StepOrder < templateSteps[j].StepOrder
		})

		now := time.Now().UTC()
		steps := make([]*models.TransactionStep, len(templateSteps))

		for i, templateStep := range templateSteps {
			steps[i] = &models.TransactionStep{
				TransactionID: transaction.ID,
				StepOrder:     templateStep.StepOrder,
				Name:          templateStep.Name,
				Status:        models.StepStatusPending,
			}
		}

		steps[0].Status = models.StepStatusActive
		steps[0].EnteredAt = &now

		err = repo.CreateSteps(ctx, steps)
		if err != nil {
			return fmt.Errorf("failed to create transaction steps: %w", err)
		}

		firstStep = steps[0]
		transaction.CurrentStepID = &firstStep.ID

		err = repo.UpdateTransaction(ctx, transaction)
		if err != nil {
			return err
		}

		created, err = e.conditions.InstantiateStepConditions(ctx, repo, transaction.ID, firstStep, templateSteps[0], anchors, actor)

		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, transaction.ID, events.TransactionCreated{
		BaseEvent:          e.baseEvent(events.TransactionCreatedEvent, transaction.ID, actor),
		WorkflowTemplateID: template.ID,
		TransactionType:    string(transaction.Type),
	})
	e.publish(ctx, transaction.ID, events.StepEntered{
		BaseEvent: e.baseEvent(events.StepEnteredEvent, transaction.ID, actor),
		StepID:    firstStep.ID,
		StepOrder: firstStep.StepOrder,
		StepName:  firstStep.Name,
	})
	e.conditions.PublishCreated(ctx, created, actor)
	e.runAutomations(ctx, template.StepByOrder(firstStep.StepOrder), models.AutomationOnEnter, transaction.ID, firstStep.Name)

	return transaction, nil
}

// AdvanceStep completes the transaction's current step and activates the next
// one. It fails with ErrStaleStep when the current step is no longer active
// and with BlockingConditionsError when pending blocking conditions exist,
// unless the check is explicitly bypassed. Returns the newly activated step,
// or nil when the workflow ran through its last step.
func (e *Engine) AdvanceStep(ctx context.Context, transactionID string, actor string, opts AdvanceOptions) (*models.TransactionStep, error) {
	return e.transition(ctx, transactionID, actor, models.StepStatusCompleted, opts)
}

// SkipStep is AdvanceStep without the blocking-conditions gate; the outgoing
// step is marked skipped instead of completed.
func (e *Engine) SkipStep(ctx context.Context, transactionID string, actor string, opts AdvanceOptions) (*models.TransactionStep, error) {
	opts.SkipBlockingCheck = true

	return e.transition(ctx, transactionID, actor, models.StepStatusSkipped, opts)
}

func (e *Engine) transition(ctx context.Context, transactionID string, actor string, outgoingStatus models.StepStatus, opts AdvanceOptions) (*models.TransactionStep, error) {
	var (
		outgoing        *models.TransactionStep
		next            *models.TransactionStep
		template        *models.WorkflowTemplate
		archiveResolved []*models.Condition
		created         []*models.Condition
	)

	// The current step is resolved before the unit of work opens and
	// re-validated under lock inside it. A duplicate request racing on the
	// same step resolves the same step here, loses the lock, and sees a
	// terminal status.
	observed, err := e.repo.TransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if observed.CurrentStepID == nil {
		return nil, ErrWorkflowComplete
	}

	currentStepID := *observed.CurrentStepID

	err = e.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		txn, err := repo.TransactionByID(ctx, transactionID)
		if err != nil {
			return err
		}

		outgoing, err = repo.LockStep(ctx, currentStepID)
		if err != nil {
			return err
		}

		if outgoing.Status != models.StepStatusActive {
			return fmt.Errorf("%w: step %s is %s", ErrStaleStep, outgoing.ID, outgoing.Status)
		}

		if !opts.SkipBlockingCheck {
			blockers, err := repo.PendingBlockingConditions(ctx, outgoing.ID)
			if err != nil {
				return err
			}

			if len(blockers) > 0 {
				return &BlockingConditionsError{StepID: outgoing.ID, Conditions: blockers}
			}
		}

		next, err = nextPendingStep(ctx, repo, transactionID, outgoing.StepOrder)
		if err != nil {
			return err
		}

		archiveResolved, err = e.conditions.ArchiveOnStepChange(ctx, repo, outgoing, next, actor, opts.Resolutions, opts.SkipBlockingCheck)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		outgoing.Status = outgoingStatus
		outgoing.CompletedAt = &now

		err = repo.UpdateStep(ctx, outgoing)
		if err != nil {
			return err
		}

		if outgoing.StepOrder == 1 {
			err = lockProfile(ctx, repo, transactionID)
			if err != nil {
				return err
			}
		}

		if next == nil {
			txn.CurrentStepID = nil
			txn.Status = models.TransactionStatusCompleted

			return repo.UpdateTransaction(ctx, txn)
		}

		next.Status = models.StepStatusActive
		next.EnteredAt = &now

		err = repo.UpdateStep(ctx, next)
		if err != nil {
			return err
		}

		txn.CurrentStepID = &next.ID

		err = repo.UpdateTransaction(ctx, txn)
		if err != nil {
			return err
		}

		template, err = repo.WorkflowTemplateByID(ctx, txn.WorkflowTemplateID)
		if err != nil {
			return err
		}

		created, err = e.conditions.InstantiateStepConditions(ctx, repo, transactionID, next, template.StepByOrder(next.StepOrder), opts.Anchors, actor)

		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterTransition(ctx, transactionID, actor, outgoing, next, template, outgoingStatus, archiveResolved, created)

	return next, nil
}

// afterTransition emits events and fires automations against the committed
// state change. Automation failures are logged by the registry and never
// surface to the caller.
func (e *Engine) afterTransition(ctx context.Context, transactionID string, actor string, outgoing *models.TransactionStep, next *models.TransactionStep, template *models.WorkflowTemplate, outgoingStatus models.StepStatus, resolved []*models.Condition, created []*models.Condition) {
	if template == nil {
		var err error

		template, err = e.templateForTransaction(ctx, transactionID)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to load workflow template for automations",
				"transaction_id", transactionID, "error", err)
		}
	}

	if template != nil {
		e.runAutomations(ctx, template.StepByOrder(outgoing.StepOrder), models.AutomationOnExit, transactionID, outgoing.Name)
	}

	e.conditions.PublishResolved(ctx, resolved, actor)

	if outgoingStatus == models.StepStatusSkipped {
		e.publish(ctx, transactionID, events.StepSkipped{
			BaseEvent: e.baseEvent(events.StepSkippedEvent, transactionID, actor),
			StepID:    outgoing.ID,
			StepOrder: outgoing.StepOrder,
			StepName:  outgoing.Name,
		})
	} else {
		e.publish(ctx, transactionID, events.StepCompleted{
			BaseEvent:         e.baseEvent(events.StepCompletedEvent, transactionID, actor),
			StepID:            outgoing.ID,
			StepOrder:         outgoing.StepOrder,
			StepName:          outgoing.Name,
			WorkflowCompleted: next == nil,
		})
	}

	if next == nil {
		return
	}

	e.publish(ctx, transactionID, events.StepEntered{
		BaseEvent: e.baseEvent(events.StepEnteredEvent, transactionID, actor),
		StepID:    next.ID,
		StepOrder: next.StepOrder,
		StepName:  next.Name,
	})
	e.conditions.PublishCreated(ctx, created, actor)

	if template != nil {
		e.runAutomations(ctx, template.StepByOrder(next.StepOrder), models.AutomationOnEnter, transactionID, next.Name)
	}
}

// GoToStep rewinds or fast-forwards the transaction to the step with the
// target order. Steps past the target are reset to pending with cleared
// timestamps; the target becomes active with a fresh entry timestamp; steps
// before the target keep their status. Condition instantiation and
// automations are not re-run; only explicit forward advancement does that.
func (e *Engine) GoToStep(ctx context.Context, transactionID string, targetOrder int, actor string) (*models.TransactionStep, error) {
	var target *models.TransactionStep

	err := e.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		txn, err := repo.TransactionByID(ctx, transactionID)
		if err != nil {
			return err
		}

		steps, err := repo.StepsByTransaction(ctx, transactionID)
		if err != nil {
			return err
		}

		for _, step := range steps {
			if step.StepOrder == targetOrder {
				target = step

				break
			}
		}

		if target == nil {
			return persistence.ErrStepNotFound
		}

		now := time.Now().UTC()

		for _, step := range steps {
			if step.StepOrder == targetOrder {
				continue
			}

			// Resetting every later step and demoting any other active step
			// keeps a single step active.
			if step.StepOrder > targetOrder || step.Status == models.StepStatusActive {
				step.Status = models.StepStatusPending
				step.EnteredAt = nil
				step.CompletedAt = nil

				err = repo.UpdateStep(ctx, step)
				if err != nil {
					return err
				}
			}
		}

		target.Status = models.StepStatusActive
		target.EnteredAt = &now
		target.CompletedAt = nil

		err = repo.UpdateStep(ctx, target)
		if err != nil {
			return err
		}

		txn.CurrentStepID = &target.ID
		txn.Status = models.TransactionStatusActive

		return repo.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, transactionID, events.StepEntered{
		BaseEvent: e.baseEvent(events.StepEnteredEvent, transactionID, actor),
		StepID:    target.ID,
		StepOrder: target.StepOrder,
		StepName:  target.Name,
	})

	return target, nil
}

// CheckBlockingConditions returns the pending, effectively blocking
// conditions on a step. Exposed for UI pre-flight checks.
func (e *Engine) CheckBlockingConditions(ctx context.Context, stepID string) ([]*models.Condition, error) {
	return e.repo.PendingBlockingConditions(ctx, stepID)
}

func nextPendingStep(ctx context.Context, repo persistence.Repository, transactionID string, afterOrder int) (*models.TransactionStep, error) {
	steps, err := repo.StepsByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var next *models.TransactionStep

	for _, step := range steps {
		if step.StepOrder <= afterOrder || step.Status != models.StepStatusPending {
			continue
		}

		if next == nil || step.StepOrder < next.StepOrder {
			next = step
		}
	}

	return next, nil
}

// lockProfile stamps the profile immutable once the transaction leaves its
// first step. The facts that fed template matching must not drift afterwards.
func lockProfile(ctx context.Context, repo persistence.Repository, transactionID string) error {
	profile, err := repo.ProfileByTransaction(ctx, transactionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil
		}

		return err
	}

	if profile.Locked {
		return nil
	}

	profile.Locked = true

	return repo.SaveProfile(ctx, profile)
}

func (e *Engine) templateForTransaction(ctx context.Context, transactionID string) (*models.WorkflowTemplate, error) {
	txn, err := e.repo.TransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return e.repo.WorkflowTemplateByID(ctx, txn.WorkflowTemplateID)
}

func (e *Engine) runAutomations(ctx context.Context, templateStep *models.WorkflowStep, trigger models.AutomationTrigger, transactionID string, stepName string) {
	if templateStep == nil || e.automations == nil {
		return
	}

	for _, declared := range templateStep.Automations {
		if declared.Trigger != trigger {
			continue
		}

		// The result is deliberately not consulted; automations never gate a
		// committed step transition.
		_ = e.automations.Dispatch(ctx, declared, automation.Invocation{
			TransactionID: transactionID,
			StepName:      stepName,
			Trigger:       trigger,
		})
	}
}

func (e *Engine) publish(ctx context.Context, transactionID string, event eventbus.Event) {
	err := e.publisher.Publish(ctx, transactionID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "transaction_id", transactionID, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, transactionID string, actor string) events.BaseEvent {
	return events.BaseEvent{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
		ActorID:       actor,
	}
}
