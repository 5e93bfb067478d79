// Package models defines the core domain models for transaction workflow coordination.
package models

import "time"

// TransactionType distinguishes the two sides of a deal.
type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeSale     TransactionType = "sale"
)

// TransactionStatus is the mutable status snapshot of a transaction.
type TransactionStatus string

const (
	TransactionStatusActive    TransactionStatus = "active"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is the aggregate root. CurrentStepID is nil once the workflow has
// run to completion.
type Transaction struct {
	ID                 string            `json:"id"`
	Type               TransactionType   `json:"type"                 validate:"required,oneof=purchase sale"`
	WorkflowTemplateID string            `json:"workflow_template_id" validate:"required"`
	CurrentStepID      *string           `json:"current_step_id,omitempty"`
	Status             TransactionStatus `json:"status"`
	Owner              string            `json:"owner"                validate:"required"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	DeletedAt          *time.Time        `json:"deleted_at,omitempty"`
}

// Completed reports whether the workflow has run through its last step.
func (t *Transaction) Completed() bool {
	return t.CurrentStepID == nil
}
