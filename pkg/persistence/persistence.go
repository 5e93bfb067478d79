// Package persistence provides the data storage abstraction layer for
// transactions, steps, conditions, and offers.
package persistence

import (
	"context"
	"time"

	"github.com/closewise/closewise/pkg/models"
)

// Repository is the storage contract the engines operate against.
//
// Transactional runs fn against a repository bound to a single unit of work.
// Every mutation inside fn commits or rolls back together; implementations
// must serialize conflicting units of work so that stale-step detection holds.
type Repository interface {
	Transactional(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	// Transactions.
	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	TransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, transaction *models.Transaction) error

	// Transaction steps.
	CreateSteps(ctx context.Context, steps []*models.TransactionStep) error
	StepByID(ctx context.Context, id string) (*models.TransactionStep, error)
	// LockStep re-reads a step for update within the current unit of work.
	LockStep(ctx context.Context, id string) (*models.TransactionStep, error)
	StepsByTransaction(ctx context.Context, transactionID string) ([]*models.TransactionStep, error)
	StepByOrder(ctx context.Context, transactionID string, order int) (*models.TransactionStep, error)
	UpdateStep(ctx context.Context, step *models.TransactionStep) error

	// Workflow templates.
	SaveWorkflowTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	WorkflowTemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)

	// Condition templates.
	SaveConditionTemplate(ctx context.Context, template *models.ConditionTemplate) error
	ActiveConditionTemplates(ctx context.Context) ([]*models.ConditionTemplate, error)

	// Transaction profiles.
	SaveProfile(ctx context.Context, profile *models.TransactionProfile) error
	ProfileByTransaction(ctx context.Context, transactionID string) (*models.TransactionProfile, error)

	// Conditions.
	CreateCondition(ctx context.Context, condition *models.Condition) error
	// CreateTemplateCondition inserts a template-derived condition unless one
	// already exists for (transaction, template). Reports whether a row was
	// created; the guard must hold under concurrent instantiation paths.
	CreateTemplateCondition(ctx context.Context, condition *models.Condition) (bool, error)
	ConditionByID(ctx context.Context, id string) (*models.Condition, error)
	UpdateCondition(ctx context.Context, condition *models.Condition) error
	ConditionsByTransaction(ctx context.Context, transactionID string) ([]*models.Condition, error)
	ConditionsByStep(ctx context.Context, stepID string) ([]*models.Condition, error)
	PendingBlockingConditions(ctx context.Context, stepID string) ([]*models.Condition, error)
	DueConditions(ctx context.Context, by time.Time) ([]*models.Condition, error)

	// Condition events (append-only).
	AppendConditionEvent(ctx context.Context, event *models.ConditionEvent) error
	ConditionEvents(ctx context.Context, conditionID string) ([]*models.ConditionEvent, error)

	// Offers.
	CreateOffer(ctx context.Context, offer *models.Offer) error
	OfferByID(ctx context.Context, id string) (*models.Offer, error)
	UpdateOffer(ctx context.Context, offer *models.Offer) error
	OffersByTransaction(ctx context.Context, transactionID string) ([]*models.Offer, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
