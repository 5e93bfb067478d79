package automation

import (
	"context"
	"log/slog"

	"github.com/closewise/closewise/pkg/models"
)

// LogExecutor logs the transition. Used as the default automation in
// templates that only need an operational trace.
type LogExecutor struct{}

func NewLogExecutor() *LogExecutor {
	return &LogExecutor{}
}

func (*LogExecutor) ID() string {
	return "log"
}

func (*LogExecutor) Execute(ctx context.Context, automation *models.WorkflowStepAutomation, invocation Invocation, logger *slog.Logger) Result {
	message, _ := automation.Config["message"].(string)
	if message == "" {
		message = "Step automation fired"
	}

	logger.InfoContext(ctx, message,
		"transaction_id", invocation.TransactionID,
		"step_name", invocation.StepName,
		"trigger", invocation.Trigger,
	)

	return Result{Status: StatusSent}
}
