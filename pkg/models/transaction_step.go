package models

import "time"

// StepStatus is the lifecycle state of an instantiated workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
)

// TransactionStep is one instantiated row per workflow step per transaction.
// At most one step per transaction is active at any time, and it is the
// lowest-order non-terminal step.
type TransactionStep struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id" validate:"required"`
	StepOrder     int        `json:"step_order"     validate:"required,min=1"`
	Name          string     `json:"name"`
	Status        StepStatus `json:"status"`
	EnteredAt     *time.Time `json:"entered_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the step has been moved past (completed or skipped).
func (s *TransactionStep) Terminal() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusSkipped
}
