// Package main provides the Closewise API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/closewise/closewise/pkg/automation"
	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/offers"
	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/services"
	"github.com/closewise/closewise/pkg/web"
	"github.com/closewise/closewise/pkg/workflow"
)

type API struct {
	logger       *slog.Logger
	repo         persistence.Repository
	eventBus     eventbus.EventBus
	validate     *validator.Validate
	emailGateway string
}

func NewAPI(
	logger *slog.Logger,
	repo persistence.Repository,
	eventBus eventbus.EventBus,
	emailGateway string,
) *API {
	return &API{
		logger:       logger,
		repo:         repo,
		eventBus:     eventBus,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		emailGateway: emailGateway,
	}
}

func (a *API) App() *fiber.App {
	conditionsEngine := conditions.NewEngine(a.repo, a.eventBus, a.logger)

	registry := automation.NewRegistry(a.logger)
	registry.Register(automation.NewLogExecutor())
	registry.Register(automation.NewEmailExecutor(a.emailGateway))

	workflowEngine := workflow.NewEngine(a.repo, conditionsEngine, registry, a.eventBus, a.logger)
	offerService := offers.NewService(a.repo, workflowEngine, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(
		workflowEngine,
		conditionsEngine,
		offerService,
		services.NewTransactions(a.repo, a.validate),
		services.NewTemplates(a.repo, a.validate),
		services.NewParties(a.repo, a.eventBus),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Closewise API")
	})

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

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
