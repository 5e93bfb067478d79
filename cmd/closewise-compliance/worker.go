// Package main provides the compliance worker that reacts to party events
// with FINTRAC identity-verification conditions.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/fintrac"
	"github.com/closewise/closewise/pkg/persistence"
)

// Worker subscribes the compliance plug-in to the activity stream and blocks
// until shutdown.
type Worker struct {
	id       string
	repo     persistence.Repository
	eventBus eventbus.EventBus
	logger   *slog.Logger
}

func NewWorker(
	id string,
	repo persistence.Repository,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:       id,
		repo:     repo,
		eventBus: eventBus,
		logger:   logger.With("module", "compliance"),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	wCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.logger.Info("Starting compliance worker")

	plugin := fintrac.NewPlugin(w.repo, w.eventBus, w.logger)

	err := plugin.Bind(w.eventBus)
	if err != nil {
		return err
	}

	w.handleSignals(cancel)

	err = w.eventBus.Subscribe(wCtx)
	if err != nil {
		return err
	}

	<-wCtx.Done()

	w.logger.Info("Compliance worker stopped")

	return nil
}

func (w *Worker) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		w.logger.Info("Received signal", "signal", sig)
		w.logger.Info("Shutting down gracefully...")
		cancel()
	}()
}
