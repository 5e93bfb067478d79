package workflow

import (
	"errors"
	"fmt"

	"github.com/closewise/closewise/pkg/models"
)

// ErrStaleStep signals the step being mutated is no longer active. Callers
// should refresh state rather than retry blindly.
var ErrStaleStep = errors.New("step is no longer active")

// ErrWorkflowComplete signals the transaction's workflow has already run
// through its last step.
var ErrWorkflowComplete = errors.New("workflow has already run to completion")

// ErrTemplateHasNoSteps signals a stored workflow template without steps.
// The import path rejects such documents, but the store accepts them, so the
// engine must not trust stored templates to be well-formed.
var ErrTemplateHasNoSteps = errors.New("workflow template has no steps")

// ErrBlockingConditions is the sentinel wrapped by BlockingConditionsError.
var ErrBlockingConditions = errors.New("pending blocking conditions prevent advancement")

// BlockingConditionsError enumerates the blockers so callers never have to
// infer blocking state themselves.
type BlockingConditionsError struct {
	StepID     string
	Conditions []*models.Condition
}

func (e *BlockingConditionsError) Error() string {
	return fmt.Sprintf("%s: %d blocking condition(s) pending on step %s",
		ErrBlockingConditions, len(e.Conditions), e.StepID)
}

func (e *BlockingConditionsError) Unwrap() error {
	return ErrBlockingConditions
}
