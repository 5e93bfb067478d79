// Package fintrac is the compliance plug-in. It listens to party lifecycle
// events and maintains one blocking identity-verification condition per party
// on the transaction, resolving and archiving it when the party is removed.
// It rides on the condition resolve/archive contract without participating in
// the step state machine itself.
package fintrac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// conditionKey ties an identity-verification condition to its party. Reusing
// the template idempotency guard means duplicate party_added deliveries never
// create a second condition.
func conditionKey(partyID string) string {
	return "fintrac:" + partyID
}

type Plugin struct {
	repo      persistence.Repository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewPlugin(repo persistence.Repository, publisher eventbus.EventPublisher, logger *slog.Logger) *Plugin {
	return &Plugin{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("module", "fintrac"),
	}
}

// Bind subscribes the plug-in's handlers on the event bus.
func (p *Plugin) Bind(subscriber eventbus.EventSubscriber) error {
	err := subscriber.Handle(events.PartyAddedEvent, p.HandlePartyAdded)
	if err != nil {
		return err
	}

	return subscriber.Handle(events.PartyRemovedEvent, p.HandlePartyRemoved)
}

// HandlePartyAdded creates a blocking identity-verification condition for the
// new party at the transaction's current step.
func (p *Plugin) HandlePartyAdded(ctx context.Context, event any) error {
	added, ok := event.(*events.PartyAdded)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	level := models.LevelBlocking
	key := conditionKey(added.PartyID)

	var (
		condition *models.Condition
		inserted  bool
	)

	err := p.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		transaction, err := repo.TransactionByID(ctx, added.TransactionID)
		if err != nil {
			return err
		}

		condition = &models.Condition{
			TransactionID: transaction.ID,
			TemplateID:    &key,
			LabelEN:       "FINTRAC identity verification: " + added.PartyName,
			LabelFR:       "Vérification d'identité CANAFE : " + added.PartyName,
			Level:         &level,
			IsBlocking:    true,
			SourceType:    models.SourceGovernment,
			Status:        models.ConditionStatusPending,
		}

		if transaction.CurrentStepID != nil {
			step, err := repo.StepByID(ctx, *transaction.CurrentStepID)
			if err != nil {
				return err
			}

			condition.StepID = &step.ID
			condition.StepWhenCreated = &step.StepOrder
		}

		inserted, err = repo.CreateTemplateCondition(ctx, condition)
		if err != nil {
			return err
		}

		if !inserted {
			return nil
		}

		return repo.AppendConditionEvent(ctx, &models.ConditionEvent{
			ConditionID: condition.ID,
			EventType:   models.ConditionEventCreated,
			Actor:       "fintrac",
			Metadata: map[string]any{
				"source":     "fintrac",
				"party_id":   added.PartyID,
				"party_role": added.PartyRole,
			},
		})
	})
	if err != nil {
		return err
	}

	if !inserted {
		p.logger.DebugContext(ctx, "identity verification condition already exists",
			"transaction_id", added.TransactionID, "party_id", added.PartyID)

		return nil
	}

	p.publishConditionCreated(ctx, condition)

	return nil
}

// HandlePartyRemoved resolves and archives the party's identity-verification
// condition. The archival is attributed through the fintrac_archived action
// so downstream consumers can tell it apart from step-transition archival.
func (p *Plugin) HandlePartyRemoved(ctx context.Context, event any) error {
	removed, ok := event.(*events.PartyRemoved)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	key := conditionKey(removed.PartyID)

	var archived *models.Condition

	err := p.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		conditions, err := repo.ConditionsByTransaction(ctx, removed.TransactionID)
		if err != nil {
			return err
		}

		for _, condition := range conditions {
			if condition.TemplateID == nil || *condition.TemplateID != key || condition.Archived {
				continue
			}

			now := time.Now().UTC()

			if condition.Pending() {
				condition.Status = models.ConditionStatusCompleted
				condition.ResolutionType = models.ResolutionNotApplicable
				condition.Note = "Party removed from transaction"
				condition.ResolvedAt = &now
				condition.ResolvedBy = "fintrac"
				condition.StepWhenResolved = condition.StepWhenCreated

				err = repo.AppendConditionEvent(ctx, &models.ConditionEvent{
					ConditionID: condition.ID,
					EventType:   models.ConditionEventResolved,
					Actor:       "fintrac",
					Metadata: map[string]any{
						"resolution_type": string(models.ResolutionNotApplicable),
						"party_id":        removed.PartyID,
					},
				})
				if err != nil {
					return err
				}
			}

			condition.Archived = true
			condition.ArchivedStep = condition.StepWhenCreated

			err = repo.UpdateCondition(ctx, condition)
			if err != nil {
				return err
			}

			err = repo.AppendConditionEvent(ctx, &models.ConditionEvent{
				ConditionID: condition.ID,
				EventType:   models.ConditionEventArchived,
				Actor:       "fintrac",
				Metadata: map[string]any{
					events.MetadataActionKey: events.FintracArchivedAction,
					"party_id":               removed.PartyID,
				},
			})
			if err != nil {
				return err
			}

			archived = condition
		}

		return nil
	})
	if err != nil {
		return err
	}

	if archived == nil {
		return nil
	}

	completed := events.ConditionCompleted{
		BaseEvent: events.BaseEvent{
			ID:            uuid.Must(uuid.NewV7()).String(),
			Type:          events.ConditionCompletedEvent,
			Timestamp:     time.Now().UTC(),
			TransactionID: archived.TransactionID,
			ActorID:       "fintrac",
			Metadata: map[string]any{
				events.MetadataActionKey: events.FintracArchivedAction,
			},
		},
		ConditionID:    archived.ID,
		ResolutionType: string(archived.ResolutionType),
		Note:           archived.Note,
	}

	err = p.publisher.Publish(ctx, archived.TransactionID, completed)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to publish condition completed event",
			"condition_id", archived.ID, "error", err)
	}

	return nil
}

func (p *Plugin) publishConditionCreated(ctx context.Context, condition *models.Condition) {
	stepID := ""
	if condition.StepID != nil {
		stepID = *condition.StepID
	}

	event := events.ConditionCreated{
		BaseEvent: events.BaseEvent{
			ID:            uuid.Must(uuid.NewV7()).String(),
			Type:          events.ConditionCreatedEvent,
			Timestamp:     time.Now().UTC(),
			TransactionID: condition.TransactionID,
			ActorID:       "fintrac",
		},
		ConditionID: condition.ID,
		StepID:      stepID,
		Level:       string(models.LevelBlocking),
		Label:       condition.LabelEN,
	}

	err := p.publisher.Publish(ctx, condition.TransactionID, event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to publish condition created event",
			"condition_id", condition.ID, "error", err)
	}
}
