package conditions

import (
	"errors"
	"fmt"

	"github.com/closewise/closewise/pkg/models"
)

// Resolution policy violations. These carry stable sentinels so callers can
// distinguish them from transient failures; none of them is retried
// automatically.
var (
	ErrBlockingSkipWithRisk = errors.New("blocking condition cannot be resolved as skipped_with_risk")
	ErrNoteRequired         = errors.New("required condition resolved with a non-completed outcome must carry a note")
	ErrEscapeReasonTooShort = errors.New("escape without proof requires a reason of at least 10 characters")
	ErrConditionArchived    = errors.New("condition is archived and immutable")
	// ErrConditionAlreadyResolved keeps the resolve lifecycle single-shot: a
	// completed condition never takes a second resolution or audit entry.
	ErrConditionAlreadyResolved = errors.New("condition is already resolved")
)

// Step-transition archival failures.
var (
	ErrBlockingConditionsRemain   = errors.New("pending blocking conditions remain on the outgoing step")
	ErrRequiredResolutionsNeeded  = errors.New("pending required conditions need explicit resolutions")
	ErrUnknownResolutionCondition = errors.New("resolution references a condition outside the outgoing step")
)

// PolicyError wraps a policy sentinel with the condition it was raised for.
type PolicyError struct {
	ConditionID string
	Label       string
	Err         error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("condition %s (%s): %s", e.ConditionID, e.Label, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func newPolicyError(condition *models.Condition, err error) *PolicyError {
	return &PolicyError{ConditionID: condition.ID, Label: condition.LabelEN, Err: err}
}

// IsPolicyViolation reports whether err is any resolution policy violation.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrBlockingSkipWithRisk) ||
		errors.Is(err, ErrNoteRequired) ||
		errors.Is(err, ErrEscapeReasonTooShort) ||
		errors.Is(err, ErrConditionArchived) ||
		errors.Is(err, ErrConditionAlreadyResolved) ||
		errors.Is(err, ErrBlockingConditionsRemain) ||
		errors.Is(err, ErrRequiredResolutionsNeeded)
}
