package models

import "time"

// ConditionEventType is the kind of audit entry recorded for a condition.
type ConditionEventType string

const (
	ConditionEventCreated  ConditionEventType = "created"
	ConditionEventResolved ConditionEventType = "resolved"
	ConditionEventArchived ConditionEventType = "archived"
)

// ConditionEvent is one append-only audit entry. Written synchronously with
// the state change it describes, never updated or deleted.
type ConditionEvent struct {
	ID          string             `json:"id"`
	ConditionID string             `json:"condition_id" validate:"required"`
	EventType   ConditionEventType `json:"event_type"   validate:"required"`
	Actor       string             `json:"actor"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}
