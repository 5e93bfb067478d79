package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/persistence"
)

// Parties announces party membership changes on the activity stream. The
// compliance listener turns these announcements into identity-verification
// conditions, so the transaction itself stores no party roster.
type Parties struct {
	repo      persistence.Repository
	publisher eventbus.EventPublisher
}

func NewParties(repo persistence.Repository, publisher eventbus.EventPublisher) *Parties {
	return &Parties{
		repo:      repo,
		publisher: publisher,
	}
}

// Add publishes party_added for an existing transaction.
func (s *Parties) Add(ctx context.Context, transactionID, partyID, partyName, partyRole, actor string) error {
	_, err := s.repo.TransactionByID(ctx, transactionID)
	if err != nil {
		return err
	}

	return s.publisher.Publish(ctx, transactionID, events.PartyAdded{
		BaseEvent: s.baseEvent(events.PartyAddedEvent, transactionID, actor),
		PartyID:   partyID,
		PartyName: partyName,
		PartyRole: partyRole,
	})
}

// Remove publishes party_removed for an existing transaction.
func (s *Parties) Remove(ctx context.Context, transactionID, partyID, actor string) error {
	_, err := s.repo.TransactionByID(ctx, transactionID)
	if err != nil {
		return err
	}

	return s.publisher.Publish(ctx, transactionID, events.PartyRemoved{
		BaseEvent: s.baseEvent(events.PartyRemovedEvent, transactionID, actor),
		PartyID:   partyID,
	})
}

func (s *Parties) baseEvent(eventType events.EventType, transactionID, actor string) events.BaseEvent {
	return events.BaseEvent{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
		ActorID:       actor,
	}
}
