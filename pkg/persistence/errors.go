package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrTransactionNotFound indicates a transaction was not found by the given identifier.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStepNotFound indicates a transaction step was not found.
	ErrStepNotFound = errors.New("transaction step not found")

	// ErrConditionNotFound indicates a condition was not found.
	ErrConditionNotFound = errors.New("condition not found")

	// ErrProfileNotFound indicates no profile exists for the transaction.
	ErrProfileNotFound = errors.New("transaction profile not found")

	// ErrWorkflowTemplateNotFound indicates a workflow template was not found.
	ErrWorkflowTemplateNotFound = errors.New("workflow template not found")

	// ErrOfferNotFound indicates an offer was not found.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrStepOrderConflict indicates a step insert collided with an existing
	// (transaction, step_order) pair.
	ErrStepOrderConflict = errors.New("step order already exists for transaction")
)

// IsNotFound checks whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrConditionNotFound) ||
		errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrWorkflowTemplateNotFound) ||
		errors.Is(err, ErrOfferNotFound)
}
