// Package events defines the activity event taxonomy emitted on every
// meaningful transaction, step, condition, and offer transition. The event
// type names are a contract external consumers rely on; renaming or dropping
// one is a breaking change.
package events

import "time"

type EventType string

// Kafka topic for activity events.
const Topic = "closewise.activity"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Transaction lifecycle events.
	TransactionCreatedEvent EventType = "transaction_created"

	// Step lifecycle events.
	StepEnteredEvent   EventType = "step_entered"
	StepCompletedEvent EventType = "step_completed"
	StepSkippedEvent   EventType = "step_skipped"

	// Condition lifecycle events.
	ConditionCreatedEvent   EventType = "condition_created"
	ConditionCompletedEvent EventType = "condition_completed"

	// Deadline scanner events.
	ConditionDeadlineApproachingEvent EventType = "condition_deadline_approaching"
	ConditionOverdueEvent             EventType = "condition_overdue"

	// Party events consumed by the compliance plug-in.
	PartyAddedEvent   EventType = "party_added"
	PartyRemovedEvent EventType = "party_removed"

	// Offer lifecycle events.
	OfferReceivedEvent EventType = "offer_received"
	OfferAcceptedEvent EventType = "offer_accepted"
	OfferRejectedEvent EventType = "offer_rejected"
)

// MetadataActionKey marks specialized variants of an event type, e.g.
// condition archival performed by the compliance plug-in carries
// action=fintrac_archived.
const MetadataActionKey = "action"

const FintracArchivedAction = "fintrac_archived"

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	TransactionID string         `json:"transaction_id"`
	ActorID       string         `json:"actor_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type TransactionCreated struct {
	BaseEvent

	WorkflowTemplateID string `json:"workflow_template_id"`
	TransactionType    string `json:"transaction_type"`
}

func (e TransactionCreated) GetType() EventType {
	return TransactionCreatedEvent
}

type StepEntered struct {
	BaseEvent

	StepID    string `json:"step_id"`
	StepOrder int    `json:"step_order"`
	StepName  string `json:"step_name"`
}

func (e StepEntered) GetType() EventType {
	return StepEnteredEvent
}

type StepCompleted struct {
	BaseEvent

	StepID    string `json:"step_id"`
	StepOrder int    `json:"step_order"`
	StepName  string `json:"step_name"`
	// WorkflowCompleted is set when the completed step was the last one.
	WorkflowCompleted bool `json:"workflow_completed"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepSkipped struct {
	BaseEvent

	StepID    string `json:"step_id"`
	StepOrder int    `json:"step_order"`
	StepName  string `json:"step_name"`
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

type ConditionCreated struct {
	BaseEvent

	ConditionID string `json:"condition_id"`
	StepID      string `json:"step_id,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
	Level       string `json:"level"`
	Label       string `json:"label"`
}

func (e ConditionCreated) GetType() EventType {
	return ConditionCreatedEvent
}

type ConditionCompleted struct {
	BaseEvent

	ConditionID    string `json:"condition_id"`
	ResolutionType string `json:"resolution_type"`
	Note           string `json:"note,omitempty"`
}

func (e ConditionCompleted) GetType() EventType {
	return ConditionCompletedEvent
}

type ConditionDeadlineApproaching struct {
	BaseEvent

	ConditionID string    `json:"condition_id"`
	Label       string    `json:"label"`
	DueDate     time.Time `json:"due_date"`
}

func (e ConditionDeadlineApproaching) GetType() EventType {
	return ConditionDeadlineApproachingEvent
}

type ConditionOverdue struct {
	BaseEvent

	ConditionID string    `json:"condition_id"`
	Label       string    `json:"label"`
	DueDate     time.Time `json:"due_date"`
}

func (e ConditionOverdue) GetType() EventType {
	return ConditionOverdueEvent
}

type PartyAdded struct {
	BaseEvent

	PartyID   string `json:"party_id"`
	PartyName string `json:"party_name"`
	PartyRole string `json:"party_role"`
}

func (e PartyAdded) GetType() EventType {
	return PartyAddedEvent
}

type PartyRemoved struct {
	BaseEvent

	PartyID string `json:"party_id"`
}

func (e PartyRemoved) GetType() EventType {
	return PartyRemovedEvent
}

type OfferReceived struct {
	BaseEvent

	OfferID string `json:"offer_id"`
	Amount  int64  `json:"amount"`
}

func (e OfferReceived) GetType() EventType {
	return OfferReceivedEvent
}

type OfferAccepted struct {
	BaseEvent

	OfferID string `json:"offer_id"`
	// AdvanceError reports a failed auto-advancement as a non-fatal side
	// channel; the acceptance itself still succeeded.
	AdvanceError string `json:"advance_error,omitempty"`
}

func (e OfferAccepted) GetType() EventType {
	return OfferAcceptedEvent
}

type OfferRejected struct {
	BaseEvent

	OfferID string `json:"offer_id"`
}

func (e OfferRejected) GetType() EventType {
	return OfferRejectedEvent
}
