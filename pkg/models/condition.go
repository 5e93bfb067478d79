package models

import "time"

// ConditionStatus is the resolvable lifecycle state of a condition.
// in_progress survives from the legacy enum for wire compatibility; no current
// operation produces it.
type ConditionStatus string

const (
	ConditionStatusPending    ConditionStatus = "pending"
	ConditionStatusInProgress ConditionStatus = "in_progress"
	ConditionStatusCompleted  ConditionStatus = "completed"
)

// ResolutionType records how a condition was resolved. Set only on resolution.
type ResolutionType string

const (
	ResolutionCompleted       ResolutionType = "completed"
	ResolutionWaived          ResolutionType = "waived"
	ResolutionNotApplicable   ResolutionType = "not_applicable"
	ResolutionSkippedWithRisk ResolutionType = "skipped_with_risk"
)

// Condition is the atomic unit of required action on a transaction. It is
// created by template instantiation or manually at a step, mutated exactly
// once through resolution, and archived exactly once on step transition.
type Condition struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transaction_id" validate:"required"`
	StepID        *string `json:"transaction_step_id,omitempty"`
	OfferID       *string `json:"offer_id,omitempty"`
	TemplateID    *string `json:"template_id,omitempty"`

	LabelEN string `json:"label_en" validate:"required"`
	LabelFR string `json:"label_fr"`

	// Level is nullable on legacy rows; IsBlocking is the legacy boolean it
	// supersedes. Read classification only through EffectiveLevel.
	Level      *ConditionLevel     `json:"level,omitempty"`
	IsBlocking bool                `json:"is_blocking"`
	SourceType ConditionSourceType `json:"source_type,omitempty"`

	Status         ConditionStatus `json:"status"`
	ResolutionType ResolutionType  `json:"resolution_type,omitempty"`
	Note           string          `json:"note,omitempty"`

	Archived     bool `json:"archived"`
	ArchivedStep *int `json:"archived_step,omitempty"`

	StepWhenCreated  *int `json:"step_when_created,omitempty"`
	StepWhenResolved *int `json:"step_when_resolved,omitempty"`

	EscapedWithoutProof bool   `json:"escaped_without_proof"`
	EscapeReason        string `json:"escape_reason,omitempty"`

	DueDate    *time.Time `json:"due_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// EffectiveLevel reconciles the nullable Level with the legacy IsBlocking
// boolean. This is the single place the migration duality is resolved.
func (c *Condition) EffectiveLevel() ConditionLevel {
	if c.Level != nil {
		return *c.Level
	}

	if c.IsBlocking {
		return LevelBlocking
	}

	return LevelRecommended
}

// Pending reports whether the condition still requires resolution.
func (c *Condition) Pending() bool {
	return c.Status != ConditionStatusCompleted
}
