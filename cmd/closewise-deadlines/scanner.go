// Package main provides the deadline scanner that publishes approaching and
// overdue notifications for condition due dates.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// dedupeTTL keeps a notification from repeating across scans while staying
// short enough to re-alert on long-overdue conditions.
const dedupeTTL = 24 * time.Hour

// Scanner walks pending conditions on a cron schedule and publishes
// deadline notifications. Redis SET NX dedupes notifications across
// concurrently running scanner replicas.
type Scanner struct {
	id       string
	repo     persistence.Repository
	eventBus eventbus.EventPublisher
	redis    *redis.Client
	logger   *slog.Logger
	window   time.Duration
	cron     *cron.Cron
}

func NewScanner(
	id string,
	repo persistence.Repository,
	eventBus eventbus.EventPublisher,
	redisClient *redis.Client,
	window time.Duration,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		id:       id,
		repo:     repo,
		eventBus: eventBus,
		redis:    redisClient,
		window:   window,
		logger:   logger.With("module", "deadline_scanner"),
	}
}

// Start schedules the scan and runs one immediately so a freshly deployed
// scanner does not wait a full cron interval.
func (s *Scanner) Start(ctx context.Context, cronExpr string) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(cronExpr, func() {
		s.Scan(ctx)
	})
	if err != nil {
		return err
	}

	s.Scan(ctx)
	s.cron.Start()

	s.logger.Info("Deadline scanner started", "cron", cronExpr, "window", s.window)

	return nil
}

func (s *Scanner) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Scan publishes one notification per due condition: overdue when the due
// date has passed, approaching when it falls inside the warning window.
func (s *Scanner) Scan(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.repo.DueConditions(ctx, now.Add(s.window))
	if err != nil {
		s.logger.Error("Failed to list due conditions", "error", err)

		return
	}

	s.logger.Debug("Scanning condition deadlines", "count", len(due))

	for _, condition := range due {
		if condition.DueDate.Before(now) {
			s.notify(ctx, condition, "overdue", events.ConditionOverdue{
				BaseEvent:   s.baseEvent(events.ConditionOverdueEvent, condition.TransactionID),
				ConditionID: condition.ID,
				Label:       condition.LabelEN,
				DueDate:     *condition.DueDate,
			})
		} else {
			s.notify(ctx, condition, "approaching", events.ConditionDeadlineApproaching{
				BaseEvent:   s.baseEvent(events.ConditionDeadlineApproachingEvent, condition.TransactionID),
				ConditionID: condition.ID,
				Label:       condition.LabelEN,
				DueDate:     *condition.DueDate,
			})
		}
	}
}

func (s *Scanner) notify(ctx context.Context, condition *models.Condition, kind string, event eventbus.Event) {
	key := fmt.Sprintf("closewise:deadline:%s:%s", condition.ID, kind)

	if s.redis != nil {
		fresh, err := s.redis.SetNX(ctx, key, s.id, dedupeTTL).Result()
		if err != nil {
			s.logger.Error("Deadline dedupe check failed", "condition_id", condition.ID, "error", err)

			return
		}

		if !fresh {
			return
		}
	}

	err := s.eventBus.Publish(ctx, condition.TransactionID, event)
	if err != nil {
		s.logger.Error("Failed to publish deadline event",
			"condition_id", condition.ID, "kind", kind, "error", err)

		return
	}

	s.logger.Info("Published deadline notification",
		"condition_id", condition.ID, "kind", kind, "due_date", condition.DueDate)
}

func (s *Scanner) baseEvent(eventType events.EventType, transactionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
		ActorID:       s.id,
	}
}
