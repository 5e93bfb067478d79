package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/closewise/closewise/pkg/models"
)

const defaultEmailTimeout = 10 * time.Second

// EmailExecutor dispatches a notification to the email gateway. Composition
// and delivery live in the gateway; this only posts the trigger payload.
type EmailExecutor struct {
	gatewayURL string
	client     *http.Client
}

func NewEmailExecutor(gatewayURL string) *EmailExecutor {
	return &EmailExecutor{
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: defaultEmailTimeout},
	}
}

func (*EmailExecutor) ID() string {
	return "email"
}

func (e *EmailExecutor) Execute(ctx context.Context, automation *models.WorkflowStepAutomation, invocation Invocation, logger *slog.Logger) Result {
	if e.gatewayURL == "" {
		return Result{Status: StatusSkipped, Detail: "email gateway not configured"}
	}

	template, _ := automation.Config["template"].(string)
	if template == "" {
		return Result{Status: StatusSkipped, Detail: "automation has no email template"}
	}

	payload, err := json.Marshal(map[string]any{
		"template":       template,
		"transaction_id": invocation.TransactionID,
		"step_name":      invocation.StepName,
		"trigger":        invocation.Trigger,
		"config":         automation.Config,
	})
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("failed to marshal email payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("failed to build email request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("email gateway request failed: %w", err)}
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{
			Status: StatusError,
			Err:    fmt.Errorf("email gateway returned status %d", resp.StatusCode),
		}
	}

	return Result{Status: StatusSent, Detail: "template " + template}
}
