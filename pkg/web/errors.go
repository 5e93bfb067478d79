package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/offers"
	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/services"
	"github.com/closewise/closewise/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType string, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// blockingConditions refuses an advancement with the blockers enumerated so
// the client can render them without a follow-up read.
func blockingConditions(c fiber.Ctx, blockErr *workflow.BlockingConditionsError) error {
	problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
		WithInstance(c.Path()).
		WithType("blocking_conditions").
		WithDetail(blockErr.Error())

	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"type":                problem.Type,
		"title":               problem.Title,
		"status":              problem.Status,
		"detail":              problem.Detail,
		"instance":            problem.Instance,
		"blocking_conditions": TransformBlockingConditions(blockErr.Conditions),
	})
}

// handleServiceError provides typed error handling for engine and service
// layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var blockErr *workflow.BlockingConditionsError

	switch {
	case errors.As(err, &blockErr):
		return blockingConditions(c, blockErr)

	case conditions.IsPolicyViolation(err):
		problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("resolution_policy_violation").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.Is(err, conditions.ErrUnknownResolutionCondition):
		return badRequest(c, err.Error())

	case errors.Is(err, workflow.ErrTemplateHasNoSteps):
		problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("invalid_template").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.Is(err, workflow.ErrStaleStep):
		return conflict(c, "stale_step", err.Error())

	case errors.Is(err, workflow.ErrWorkflowComplete):
		return conflict(c, "workflow_complete", err.Error())

	case errors.Is(err, offers.ErrOfferNotOpen),
		errors.Is(err, offers.ErrOfferAlreadyAccepted):
		return conflict(c, "offer_conflict", err.Error())

	case errors.Is(err, services.ErrProfileLocked):
		return conflict(c, "profile_locked", err.Error())

	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, services.ErrInvalidTemplateDocument):
		return badRequest(c, err.Error())

	case persistence.IsNotFound(err):
		return notFound(c, err.Error())

	default:
		return internalError(c, err)
	}
}
