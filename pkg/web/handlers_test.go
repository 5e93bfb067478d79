package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closewise/closewise/pkg/automation"
	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/offers"
	"github.com/closewise/closewise/pkg/persistence/memory"
	"github.com/closewise/closewise/pkg/services"
	"github.com/closewise/closewise/pkg/workflow"
)

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error {
	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	repo := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := nopPublisher{}
	validate := validator.New(validator.WithRequiredStructEnabled())

	conditionsEngine := conditions.NewEngine(repo, publisher, logger)
	registry := automation.NewRegistry(logger)
	registry.Register(automation.NewLogExecutor())
	workflowEngine := workflow.NewEngine(repo, conditionsEngine, registry, publisher, logger)
	offerService := offers.NewService(repo, workflowEngine, publisher, logger)

	handlers := NewAPIHandlers(
		workflowEngine,
		conditionsEngine,
		offerService,
		services.NewTransactions(repo, validate),
		services.NewTemplates(repo, validate),
		services.NewParties(repo, publisher),
		validate,
	)

	app := fiber.New()

	app.Get("/health", handlers.HealthCheck)

	transactions := app.Group("/transactions")
	transactions.Post("/", handlers.CreateTransaction)
	transactions.Get("/:id", handlers.GetTransaction)
	transactions.Post("/:id/advance", handlers.AdvanceStep)
	transactions.Post("/:id/skip", handlers.SkipStep)
	transactions.Post("/:id/goto", handlers.GoToStep)
	transactions.Get("/:id/advancement", handlers.CheckAdvancement)
	transactions.Get("/:id/conditions", handlers.TransactionConditions)
	transactions.Post("/:id/conditions", handlers.CreateCondition)
	transactions.Post("/:id/conditions/pack", handlers.LoadConditionPack)
	transactions.Put("/:id/profile", handlers.SaveProfile)
	transactions.Post("/:id/parties", handlers.AddParty)
	transactions.Delete("/:id/parties/:partyId", handlers.RemoveParty)
	transactions.Post("/:id/offers", handlers.ReceiveOffer)

	conditionRoutes := app.Group("/conditions")
	conditionRoutes.Post("/resolve", handlers.ResolveConditions)
	conditionRoutes.Get("/:id/history", handlers.ConditionHistory)

	steps := app.Group("/steps")
	steps.Get("/:id/blocking", handlers.StepBlockingConditions)

	offerRoutes := app.Group("/offers")
	offerRoutes.Post("/:id/accept", handlers.AcceptOffer)
	offerRoutes.Post("/:id/reject", handlers.RejectOffer)
	offerRoutes.Post("/:id/withdraw", handlers.WithdrawOffer)

	templates := app.Group("/templates")
	templates.Post("/workflows", handlers.ImportWorkflowTemplate)
	templates.Post("/conditions", handlers.ImportConditionTemplates)

	return app, repo
}

func seedTwoStepTemplate(t *testing.T, repo *memory.Persistence) {
	t.Helper()

	template := &models.WorkflowTemplate{
		ID:   "tmpl-1",
		Name: "Standard purchase",
		Type: models.TransactionTypePurchase,
		Steps: []*models.WorkflowStep{
			{
				ID:        "ws-1",
				StepOrder: 1,
				Name:      "Offer",
				Conditions: []*models.WorkflowStepCondition{
					{ID: "wsc-1", LabelEN: "Signed purchase agreement", Level: models.LevelBlocking},
				},
			},
			{ID: "ws-2", StepOrder: 2, Name: "Inspection"},
		},
	}
	require.NoError(t, repo.SaveWorkflowTemplate(context.Background(), template))
}

func doJSON(t *testing.T, app *fiber.App, method string, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	})

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func createTransaction(t *testing.T, app *fiber.App) *models.Transaction {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/transactions", fiber.Map{
		"template_id": "tmpl-1",
		"owner":       "user-1",
		"actor":       "user-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var transaction models.Transaction

	decodeJSON(t, resp, &transaction)

	return &transaction
}

func resolveBlocker(t *testing.T, app *fiber.App, repo *memory.Persistence, transaction *models.Transaction) {
	t.Helper()

	blockers, err := repo.PendingBlockingConditions(context.Background(), *transaction.CurrentStepID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)

	resp := doJSON(t, app, http.MethodPost, "/conditions/resolve", fiber.Map{
		"actor": "user-1",
		"resolutions": []fiber.Map{
			{"condition_id": blockers[0].ID, "resolution_type": "completed"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any

	decodeJSON(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_CreateTransaction(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)

	transaction := createTransaction(t, app)
	assert.NotEmpty(t, transaction.ID)
	require.NotNil(t, transaction.CurrentStepID)

	resp := doJSON(t, app, http.MethodGet, "/transactions/"+transaction.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view services.TransactionView

	decodeJSON(t, resp, &view)
	assert.Len(t, view.Steps, 2)
	assert.Len(t, view.Conditions, 1)
}

func TestAPI_CreateTransaction_UnknownTemplate(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/transactions", fiber.Map{
		"template_id": "missing",
		"owner":       "user-1",
		"actor":       "user-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateTransaction_MissingOwner(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)

	resp := doJSON(t, app, http.MethodPost, "/transactions", fiber.Map{
		"template_id": "tmpl-1",
		"actor":       "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_AdvanceStep_BlockedListsConditions(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/advance", fiber.Map{
		"actor": "user-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Type               string                      `json:"type"`
		BlockingConditions []BlockingConditionResponse `json:"blocking_conditions"`
	}

	decodeJSON(t, resp, &body)
	assert.Equal(t, "blocking_conditions", body.Type)
	require.Len(t, body.BlockingConditions, 1)
	assert.Equal(t, "Signed purchase agreement", body.BlockingConditions[0].LabelEN)
}

func TestAPI_AdvanceStep_AfterResolution(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resolveBlocker(t, app, repo, transaction)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/advance", fiber.Map{
		"actor": "user-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		CurrentStep       *models.TransactionStep `json:"current_step"`
		WorkflowCompleted bool                    `json:"workflow_completed"`
	}

	decodeJSON(t, resp, &body)
	require.NotNil(t, body.CurrentStep)
	assert.Equal(t, 2, body.CurrentStep.StepOrder)
	assert.False(t, body.WorkflowCompleted)

	resp = doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/advance", fiber.Map{
		"actor": "user-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeJSON(t, resp, &body)
	assert.Nil(t, body.CurrentStep)
	assert.True(t, body.WorkflowCompleted)

	resp = doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/advance", fiber.Map{
		"actor": "user-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SkipStep_BypassesBlockers(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/skip", fiber.Map{
		"actor": "user-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		CurrentStep *models.TransactionStep `json:"current_step"`
	}

	decodeJSON(t, resp, &body)
	require.NotNil(t, body.CurrentStep)
	assert.Equal(t, 2, body.CurrentStep.StepOrder)
}

func TestAPI_CheckAdvancement(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodGet, "/transactions/"+transaction.ID+"/advancement", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var check conditions.AdvancementCheck

	decodeJSON(t, resp, &check)
	assert.False(t, check.CanAdvance)
	require.Len(t, check.Blocking, 1)

	resolveBlocker(t, app, repo, transaction)

	resp = doJSON(t, app, http.MethodGet, "/transactions/"+transaction.ID+"/advancement", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeJSON(t, resp, &check)
	assert.True(t, check.CanAdvance)
}

func TestAPI_StepBlockingConditions(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodGet, "/steps/"+*transaction.CurrentStepID+"/blocking", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		BlockingConditions []BlockingConditionResponse `json:"blocking_conditions"`
	}

	decodeJSON(t, resp, &body)
	require.Len(t, body.BlockingConditions, 1)
	assert.Equal(t, "Signed purchase agreement", body.BlockingConditions[0].LabelEN)

	resolveBlocker(t, app, repo, transaction)

	resp = doJSON(t, app, http.MethodGet, "/steps/"+*transaction.CurrentStepID+"/blocking", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeJSON(t, resp, &body)
	assert.Empty(t, body.BlockingConditions)
}

func TestAPI_TransactionConditions(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodGet, "/transactions/"+transaction.ID+"/conditions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Conditions []*models.Condition `json:"conditions"`
	}

	decodeJSON(t, resp, &body)
	require.Len(t, body.Conditions, 1)
	assert.Equal(t, models.ConditionStatusPending, body.Conditions[0].Status)
}

func TestAPI_GoToStep(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resolveBlocker(t, app, repo, transaction)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/advance", fiber.Map{
		"actor": "user-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/goto", fiber.Map{
		"target_order": 1,
		"actor":        "broker-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var step models.TransactionStep

	decodeJSON(t, resp, &step)
	assert.Equal(t, 1, step.StepOrder)

	resp = doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/goto", fiber.Map{
		"target_order": 9,
		"actor":        "broker-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateCondition_AndHistory(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/conditions", fiber.Map{
		"transaction_step_id": *transaction.CurrentStepID,
		"label_en":            "Verify deposit received",
		"level":               "required",
		"source_type":         "best_practice",
		"actor":               "broker-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var condition models.Condition

	decodeJSON(t, resp, &condition)
	assert.Equal(t, models.ConditionStatusPending, condition.Status)

	resp = doJSON(t, app, http.MethodGet, "/conditions/"+condition.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		Events []*models.ConditionEvent `json:"events"`
	}

	decodeJSON(t, resp, &history)
	require.Len(t, history.Events, 1)
	assert.Equal(t, models.ConditionEventCreated, history.Events[0].EventType)
}

func TestAPI_ResolveConditions_PolicyViolation(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	blockers, err := repo.PendingBlockingConditions(context.Background(), *transaction.CurrentStepID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)

	resp := doJSON(t, app, http.MethodPost, "/conditions/resolve", fiber.Map{
		"actor": "user-1",
		"resolutions": []fiber.Map{
			{"condition_id": blockers[0].ID, "resolution_type": "skipped_with_risk"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_SaveProfile(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodPut, "/transactions/"+transaction.ID+"/profile", fiber.Map{
		"property_type": "condo",
		"condo_docs":    true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var profile models.TransactionProfile

	decodeJSON(t, resp, &profile)
	assert.Equal(t, "condo", profile.PropertyType)

	resolveBlocker(t, app, repo, transaction)

	advanceResp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/advance", fiber.Map{
		"actor": "user-1",
	})
	require.Equal(t, http.StatusOK, advanceResp.StatusCode)

	resp = doJSON(t, app, http.MethodPut, "/transactions/"+transaction.ID+"/profile", fiber.Map{
		"property_type": "house",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Parties(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/parties", fiber.Map{
		"party_id":   "party-1",
		"party_name": "Jordan Tremblay",
		"party_role": "buyer",
		"actor":      "user-1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		PartyID string `json:"party_id"`
	}

	decodeJSON(t, resp, &body)
	assert.Equal(t, "party-1", body.PartyID)

	resp = doJSON(t, app, http.MethodDelete, "/transactions/"+transaction.ID+"/parties/party-1", fiber.Map{
		"actor": "user-1",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/transactions/txn-missing/parties", fiber.Map{
		"party_id":   "party-1",
		"party_name": "Jordan Tremblay",
		"party_role": "buyer",
		"actor":      "user-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Offers(t *testing.T) {
	app, repo := setupTestApp(t)
	seedTwoStepTemplate(t, repo)
	transaction := createTransaction(t, app)

	resp := doJSON(t, app, http.MethodPost, "/transactions/"+transaction.ID+"/offers", fiber.Map{
		"amount": 450000,
		"actor":  "buyer-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var offer models.Offer

	decodeJSON(t, resp, &offer)
	assert.Equal(t, models.OfferStatusReceived, offer.Status)

	resp = doJSON(t, app, http.MethodPost, "/offers/"+offer.ID+"/accept", fiber.Map{
		"actor": "seller-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result offers.AcceptResult

	decodeJSON(t, resp, &result)
	assert.Equal(t, models.OfferStatusAccepted, result.Offer.Status)
	require.NotNil(t, result.NewStep)
	assert.Equal(t, 2, result.NewStep.StepOrder)

	resp = doJSON(t, app, http.MethodPost, "/offers/"+offer.ID+"/withdraw", fiber.Map{
		"actor": "buyer-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err := repo.OfferByID(context.Background(), offer.ID)
	require.NoError(t, err)
}

func TestAPI_ImportWorkflowTemplate(t *testing.T) {
	app, _ := setupTestApp(t)

	document := `{
		"name": "Standard sale",
		"type": "sale",
		"steps": [
			{"step_order": 1, "name": "Listing"},
			{"step_order": 2, "name": "Closing"}
		]
	}`

	req := httptest.NewRequest(http.MethodPost, "/templates/workflows", strings.NewReader(document))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var template models.WorkflowTemplate

	decodeJSON(t, resp, &template)
	assert.NotEmpty(t, template.ID)
	assert.Len(t, template.Steps, 2)
}

func TestAPI_ImportWorkflowTemplate_Invalid(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/templates/workflows",
		strings.NewReader(`{"name": "No steps", "type": "sale", "steps": []}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ImportConditionTemplates(t *testing.T) {
	app, _ := setupTestApp(t)

	document := `{
		"templates": [
			{
				"label_en": "Water potability test",
				"level": "required",
				"source_type": "government",
				"applies_when": {"has_well": true},
				"deadline_ref": "acceptance",
				"deadline_offset_days": 10,
				"active": true
			}
		]
	}`

	req := httptest.NewRequest(http.MethodPost, "/templates/conditions", strings.NewReader(document))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Imported int `json:"imported"`
	}

	decodeJSON(t, resp, &body)
	assert.Equal(t, 1, body.Imported)
}
