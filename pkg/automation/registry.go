package automation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/closewise/closewise/pkg/models"
)

// Registry dispatches automations to their registered executors.
type Registry struct {
	executors map[string]Executor
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger,
	}
}

func (r *Registry) Register(executor Executor) {
	r.executors[executor.ID()] = executor
}

// Dispatch runs one automation. An unknown type is skipped, a panicking
// executor is contained as an error result. Dispatch never returns an error.
func (r *Registry) Dispatch(ctx context.Context, automation *models.WorkflowStepAutomation, invocation Invocation) (result Result) {
	logger := r.logger.With(
		"automation_id", automation.ID,
		"automation_type", automation.Type,
		"transaction_id", invocation.TransactionID,
		"step_name", invocation.StepName,
		"trigger", invocation.Trigger,
	)

	defer func() {
		if recovered := recover(); recovered != nil {
			result = Result{
				Status: StatusError,
				Err:    fmt.Errorf("automation executor panicked: %v", recovered),
			}

			logger.ErrorContext(ctx, "Automation executor panicked", "panic", recovered)
		}
	}()

	executor, exists := r.executors[automation.Type]
	if !exists {
		logger.WarnContext(ctx, "No executor registered for automation type")

		return Result{Status: StatusSkipped, Detail: "no executor for type " + automation.Type}
	}

	result = executor.Execute(ctx, automation, invocation, logger)

	if result.Status == StatusError {
		logger.ErrorContext(ctx, "Automation failed", "error", result.Err)
	}

	return result
}
