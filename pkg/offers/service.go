// Package offers implements the negotiation offer state machine and its
// bridge into step advancement on acceptance.
package offers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/workflow"
)

// AcceptResult is the outcome of accepting an offer. AdvanceError reports a
// failed auto-advancement as a non-fatal side channel; the acceptance itself
// already committed.
type AcceptResult struct {
	Offer        *models.Offer           `json:"offer"`
	Rejected     []*models.Offer         `json:"rejected_offers,omitempty"`
	NewStep      *models.TransactionStep `json:"new_step,omitempty"`
	AdvanceError string                  `json:"advance_error,omitempty"`
}

// Service runs the offer state machine:
// received -> countered* -> accepted|rejected|withdrawn|expired.
type Service struct {
	repo      persistence.Repository
	workflow  *workflow.Engine
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewService(repo persistence.Repository, workflowEngine *workflow.Engine, publisher eventbus.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		workflow:  workflowEngine,
		publisher: publisher,
		logger:    logger.With("module", "offers"),
	}
}

// Receive records a new incoming offer. When it counters an open offer, the
// countered offer moves to countered.
func (s *Service) Receive(ctx context.Context, offer *models.Offer, actor string) (*models.Offer, error) {
	err := s.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		_, err := repo.TransactionByID(ctx, offer.TransactionID)
		if err != nil {
			return err
		}

		if offer.CounterOf != nil {
			countered, err := repo.OfferByID(ctx, *offer.CounterOf)
			if err != nil {
				return err
			}

			if !countered.Open() {
				return fmt.Errorf("%w: countered offer %s is %s", ErrOfferNotOpen, countered.ID, countered.Status)
			}

			countered.Status = models.OfferStatusCountered

			err = repo.UpdateOffer(ctx, countered)
			if err != nil {
				return err
			}
		}

		offer.Status = models.OfferStatusReceived

		return repo.CreateOffer(ctx, offer)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, offer.TransactionID, events.OfferReceived{
		BaseEvent: s.baseEvent(events.OfferReceivedEvent, offer.TransactionID, actor),
		OfferID:   offer.ID,
		Amount:    offer.Amount,
	})

	return offer, nil
}

// Accept moves the offer to accepted, auto-rejects every other open offer on
// the transaction, and then advances the workflow step with the blocking
// check bypassed. Acceptance is the domain trigger for progression; an
// advancement failure is reported, not raised.
func (s *Service) Accept(ctx context.Context, offerID string, actor string) (*AcceptResult, error) {
	result := &AcceptResult{}

	err := s.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		offer, err := repo.OfferByID(ctx, offerID)
		if err != nil {
			return err
		}

		if !offer.Open() {
			return fmt.Errorf("%w: offer %s is %s", ErrOfferNotOpen, offer.ID, offer.Status)
		}

		siblings, err := repo.OffersByTransaction(ctx, offer.TransactionID)
		if err != nil {
			return err
		}

		for _, sibling := range siblings {
			if sibling.Status == models.OfferStatusAccepted {
				return fmt.Errorf("%w: offer %s", ErrOfferAlreadyAccepted, sibling.ID)
			}
		}

		for _, sibling := range siblings {
			if sibling.ID == offer.ID || !sibling.Open() {
				continue
			}

			sibling.Status = models.OfferStatusRejected

			err = repo.UpdateOffer(ctx, sibling)
			if err != nil {
				return err
			}

			result.Rejected = append(result.Rejected, sibling)
		}

		offer.Status = models.OfferStatusAccepted

		err = repo.UpdateOffer(ctx, offer)
		if err != nil {
			return err
		}

		result.Offer = offer

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rejected := range result.Rejected {
		s.publish(ctx, rejected.TransactionID, events.OfferRejected{
			BaseEvent: s.baseEvent(events.OfferRejectedEvent, rejected.TransactionID, actor),
			OfferID:   rejected.ID,
		})
	}

	// The acceptance date anchors due dates for conditions instantiated on
	// the incoming step.
	now := time.Now().UTC()

	newStep, err := s.workflow.AdvanceStep(ctx, result.Offer.TransactionID, actor, workflow.AdvanceOptions{
		SkipBlockingCheck: true,
		Anchors:           conditions.Anchors{AcceptanceDate: &now},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "offer accepted but step advancement failed",
			"offer_id", result.Offer.ID, "transaction_id", result.Offer.TransactionID, "error", err)

		result.AdvanceError = err.Error()
	} else {
		result.NewStep = newStep
	}

	s.publish(ctx, result.Offer.TransactionID, events.OfferAccepted{
		BaseEvent:    s.baseEvent(events.OfferAcceptedEvent, result.Offer.TransactionID, actor),
		OfferID:      result.Offer.ID,
		AdvanceError: result.AdvanceError,
	})

	return result, nil
}

// Reject closes an open offer without acceptance.
func (s *Service) Reject(ctx context.Context, offerID string, actor string) (*models.Offer, error) {
	offer, err := s.transitionTerminal(ctx, offerID, models.OfferStatusRejected)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, offer.TransactionID, events.OfferRejected{
		BaseEvent: s.baseEvent(events.OfferRejectedEvent, offer.TransactionID, actor),
		OfferID:   offer.ID,
	})

	return offer, nil
}

// Withdraw closes an open offer at the offering party's request.
func (s *Service) Withdraw(ctx context.Context, offerID string, actor string) (*models.Offer, error) {
	return s.transitionTerminal(ctx, offerID, models.OfferStatusWithdrawn)
}

// Expire closes an open offer whose expiry has passed.
func (s *Service) Expire(ctx context.Context, offerID string) (*models.Offer, error) {
	return s.transitionTerminal(ctx, offerID, models.OfferStatusExpired)
}

func (s *Service) transitionTerminal(ctx context.Context, offerID string, status models.OfferStatus) (*models.Offer, error) {
	var offer *models.Offer

	err := s.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		var err error

		offer, err = repo.OfferByID(ctx, offerID)
		if err != nil {
			return err
		}

		if !offer.Open() {
			return fmt.Errorf("%w: offer %s is %s", ErrOfferNotOpen, offer.ID, offer.Status)
		}

		offer.Status = status

		return repo.UpdateOffer(ctx, offer)
	})
	if err != nil {
		return nil, err
	}

	return offer, nil
}

func (s *Service) publish(ctx context.Context, transactionID string, event eventbus.Event) {
	err := s.publisher.Publish(ctx, transactionID, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "transaction_id", transactionID, "error", err)
	}
}

func (s *Service) baseEvent(eventType events.EventType, transactionID string, actor string) events.BaseEvent {
	return events.BaseEvent{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
		ActorID:       actor,
	}
}
