package models

import "time"

// ConditionLevel classifies how hard a condition gates step advancement.
type ConditionLevel string

const (
	LevelBlocking    ConditionLevel = "blocking"
	LevelRequired    ConditionLevel = "required"
	LevelRecommended ConditionLevel = "recommended"
)

// ConditionSourceType records where a condition rule originates.
type ConditionSourceType string

const (
	SourceLegal        ConditionSourceType = "legal"
	SourceGovernment   ConditionSourceType = "government"
	SourceIndustry     ConditionSourceType = "industry"
	SourceBestPractice ConditionSourceType = "best_practice"
)

// DeadlineReference anchors a template's due-date calculation.
type DeadlineReference string

const (
	DeadlineFromAcceptance DeadlineReference = "acceptance"
	DeadlineFromClosing    DeadlineReference = "closing"
	DeadlineFromStepEntry  DeadlineReference = "step_entry"
)

// ConditionTemplate is a reusable, versioned condition rule. AppliesWhen is a
// flat key/value predicate matched by exact equality against a transaction
// profile's facts; a template with no declared keys matches universally.
type ConditionTemplate struct {
	ID                 string              `json:"id"`
	LabelEN            string              `json:"label_en"    validate:"required"`
	LabelFR            string              `json:"label_fr"`
	Level              ConditionLevel      `json:"level"       validate:"required,oneof=blocking required recommended"`
	SourceType         ConditionSourceType `json:"source_type" validate:"required,oneof=legal government industry best_practice"`
	AppliesWhen        map[string]any      `json:"applies_when,omitempty"`
	StepOrder          *int                `json:"step_order,omitempty"`
	DeadlineRef        DeadlineReference   `json:"deadline_ref,omitempty"`
	DeadlineOffsetDays int                 `json:"deadline_offset_days"`
	Active             bool                `json:"active"`
	Default            bool                `json:"default"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}
