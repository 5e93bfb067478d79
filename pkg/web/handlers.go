// Package web provides HTTP handlers and REST API endpoints for transaction
// workflow management.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/offers"
	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/services"
	"github.com/closewise/closewise/pkg/workflow"
)

type APIHandlers struct {
	workflowEngine     *workflow.Engine
	conditionsEngine   *conditions.Engine
	offerService       *offers.Service
	transactionService *services.Transactions
	templateService    *services.Templates
	partyService       *services.Parties
	validator          *validator.Validate
}

func NewAPIHandlers(
	workflowEngine *workflow.Engine,
	conditionsEngine *conditions.Engine,
	offerService *offers.Service,
	transactionService *services.Transactions,
	templateService *services.Templates,
	partyService *services.Parties,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowEngine:     workflowEngine,
		conditionsEngine:   conditionsEngine,
		offerService:       offerService,
		transactionService: transactionService,
		templateService:    templateService,
		partyService:       partyService,
		validator:          validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.transactionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Closewise API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Closewise API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateTransaction(c fiber.Ctx) error {
	var req CreateTransactionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	transaction, err := h.workflowEngine.CreateFromTemplate(
		c.Context(), req.TemplateID, req.Owner, req.Actor, req.Anchors.toEngine())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(transaction)
}

func (h *APIHandlers) GetTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	view, err := h.transactionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) AdvanceStep(c fiber.Ctx) error {
	return h.transitionStep(c, false)
}

func (h *APIHandlers) SkipStep(c fiber.Ctx) error {
	return h.transitionStep(c, true)
}

func (h *APIHandlers) transitionStep(c fiber.Ctx, skip bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req AdvanceStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	opts := workflow.AdvanceOptions{
		Resolutions: toEngineResolutions(req.Resolutions),
		Anchors:     req.Anchors.toEngine(),
	}

	var (
		next *models.TransactionStep
		err  error
	)

	if skip {
		next, err = h.workflowEngine.SkipStep(c.Context(), id, req.Actor, opts)
	} else {
		next, err = h.workflowEngine.AdvanceStep(c.Context(), id, req.Actor, opts)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"current_step":       next,
		"workflow_completed": next == nil,
	})
}

func (h *APIHandlers) GoToStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req GoToStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.workflowEngine.GoToStep(c.Context(), id, req.TargetOrder, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) CheckAdvancement(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	view, err := h.transactionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if view.Transaction.CurrentStepID == nil {
		return conflict(c, "workflow_complete", "workflow has already run to completion")
	}

	current := currentStep(view)
	if current == nil {
		return internalError(c, persistence.ErrStepNotFound)
	}

	check, err := h.conditionsEngine.CheckStepAdvancement(c.Context(), current)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(check)
}

func currentStep(view *services.TransactionView) *models.TransactionStep {
	for _, step := range view.Steps {
		if step.ID == *view.Transaction.CurrentStepID {
			return step
		}
	}

	return nil
}

func (h *APIHandlers) StepBlockingConditions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Step ID is required")
	}

	pending, err := h.workflowEngine.CheckBlockingConditions(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"blocking_conditions": TransformBlockingConditions(pending),
	})
}

func (h *APIHandlers) TransactionConditions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	view, err := h.transactionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"conditions": view.Conditions})
}

func (h *APIHandlers) LoadConditionPack(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req LoadPackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.conditionsEngine.LoadPack(c.Context(), id, req.Actor, req.Anchors.toEngine())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CreateCondition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req CreateConditionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	level := models.ConditionLevel(req.Level)
	condition := &models.Condition{
		TransactionID: id,
		StepID:        &req.StepID,
		LabelEN:       req.LabelEN,
		LabelFR:       req.LabelFR,
		Level:         &level,
		SourceType:    models.ConditionSourceType(req.SourceType),
		DueDate:       req.DueDate,
	}

	created, err := h.conditionsEngine.CreateManual(c.Context(), condition, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ResolveConditions(c fiber.Ctx) error {
	var req ResolveConditionsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resolved, err := h.conditionsEngine.Resolve(c.Context(), toEngineResolutions(req.Resolutions), req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"resolved": resolved})
}

func (h *APIHandlers) ConditionHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Condition ID is required")
	}

	history, err := h.transactionService.ConditionHistory(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": history})
}

func (h *APIHandlers) SaveProfile(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req SaveProfileRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	profile, err := h.transactionService.SaveProfile(c.Context(), &models.TransactionProfile{
		TransactionID: id,
		PropertyType:  req.PropertyType,
		Rural:         req.Rural,
		Financed:      req.Financed,
		HasWell:       req.HasWell,
		HasSeptic:     req.HasSeptic,
		PrivateAccess: req.PrivateAccess,
		CondoDocs:     req.CondoDocs,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(profile)
}

func (h *APIHandlers) AddParty(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req AddPartyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.partyService.Add(c.Context(), id, req.PartyID, req.PartyName, req.PartyRole, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"transaction_id": id,
		"party_id":       req.PartyID,
	})
}

func (h *APIHandlers) RemoveParty(c fiber.Ctx) error {
	id := c.Params("id")
	partyID := c.Params("partyId")

	if id == "" || partyID == "" {
		return badRequest(c, "Transaction ID and party ID are required")
	}

	var req RemovePartyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.partyService.Remove(c.Context(), id, partyID, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"transaction_id": id,
		"party_id":       partyID,
	})
}

func (h *APIHandlers) ReceiveOffer(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req ReceiveOfferRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	offer, err := h.offerService.Receive(c.Context(), &models.Offer{
		TransactionID: id,
		Amount:        req.Amount,
		CounterOf:     req.CounterOf,
		ExpiresAt:     req.ExpiresAt,
	}, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(offer)
}

func (h *APIHandlers) AcceptOffer(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Offer ID is required")
	}

	var req OfferActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.offerService.Accept(c.Context(), id, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) RejectOffer(c fiber.Ctx) error {
	return h.terminalOffer(c, func(c fiber.Ctx, id string, actor string) (*models.Offer, error) {
		return h.offerService.Reject(c.Context(), id, actor)
	})
}

func (h *APIHandlers) WithdrawOffer(c fiber.Ctx) error {
	return h.terminalOffer(c, func(c fiber.Ctx, id string, actor string) (*models.Offer, error) {
		return h.offerService.Withdraw(c.Context(), id, actor)
	})
}

func (h *APIHandlers) terminalOffer(c fiber.Ctx, transition func(fiber.Ctx, string, string) (*models.Offer, error)) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Offer ID is required")
	}

	var req OfferActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	offer, err := transition(c, id, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(offer)
}

func (h *APIHandlers) ImportWorkflowTemplate(c fiber.Ctx) error {
	template, err := h.templateService.ImportWorkflowTemplate(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) ImportConditionTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.ImportConditionTemplates(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"imported":  len(templates),
		"templates": templates,
	})
}
