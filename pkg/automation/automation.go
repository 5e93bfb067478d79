// Package automation executes step automations declared on workflow
// templates. Automations are fire-and-continue: every invocation yields a
// Result that callers only log, so a failed automation never blocks or
// rolls back a step transition.
package automation

import (
	"context"
	"log/slog"

	"github.com/closewise/closewise/pkg/models"
)

// Status is the outcome classification of one automation invocation.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Result reports what a single automation invocation did.
type Result struct {
	Status Status
	Detail string
	Err    error
}

// Invocation carries the transition context an automation fires in.
type Invocation struct {
	TransactionID string
	StepName      string
	Trigger       models.AutomationTrigger
}

// Executor runs one automation type. Implementations must not panic and must
// report failures through the Result, never by escaping errors.
type Executor interface {
	ID() string
	Execute(ctx context.Context, automation *models.WorkflowStepAutomation, invocation Invocation, logger *slog.Logger) Result
}
