package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closewise/closewise/pkg/eventbus"
	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence/memory"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) ofType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	matched := make([]eventbus.Event, 0)

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func seedCondition(t *testing.T, repo *memory.Persistence, id string, due time.Time) {
	t.Helper()

	require.NoError(t, repo.CreateCondition(context.Background(), &models.Condition{
		ID:            id,
		TransactionID: "txn-1",
		LabelEN:       "Condition " + id,
		Status:        models.ConditionStatusPending,
		DueDate:       &due,
	}))
}

func TestScanner_Scan(t *testing.T) {
	repo := memory.NewPersistence()
	publisher := &capturingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	now := time.Now().UTC()
	seedCondition(t, repo, "cond-overdue", now.Add(-2*time.Hour))
	seedCondition(t, repo, "cond-soon", now.Add(12*time.Hour))
	seedCondition(t, repo, "cond-far", now.Add(96*time.Hour))

	scanner := NewScanner("scanner-test", repo, publisher, nil, 48*time.Hour, logger)
	scanner.Scan(context.Background())

	overdue := publisher.ofType(events.ConditionOverdueEvent)
	require.Len(t, overdue, 1)

	overdueEvent, ok := overdue[0].(events.ConditionOverdue)
	require.True(t, ok)
	assert.Equal(t, "cond-overdue", overdueEvent.ConditionID)
	assert.Equal(t, "txn-1", overdueEvent.TransactionID)

	approaching := publisher.ofType(events.ConditionDeadlineApproachingEvent)
	require.Len(t, approaching, 1)

	approachingEvent, ok := approaching[0].(events.ConditionDeadlineApproaching)
	require.True(t, ok)
	assert.Equal(t, "cond-soon", approachingEvent.ConditionID)
}

func TestScanner_Scan_SkipsResolvedAndArchived(t *testing.T) {
	repo := memory.NewPersistence()
	publisher := &capturingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	now := time.Now().UTC()
	due := now.Add(-time.Hour)

	require.NoError(t, repo.CreateCondition(context.Background(), &models.Condition{
		ID:            "cond-resolved",
		TransactionID: "txn-1",
		LabelEN:       "Resolved",
		Status:        models.ConditionStatusCompleted,
		DueDate:       &due,
	}))
	require.NoError(t, repo.CreateCondition(context.Background(), &models.Condition{
		ID:            "cond-archived",
		TransactionID: "txn-1",
		LabelEN:       "Archived",
		Status:        models.ConditionStatusPending,
		Archived:      true,
		DueDate:       &due,
	}))

	scanner := NewScanner("scanner-test", repo, publisher, nil, 48*time.Hour, logger)
	scanner.Scan(context.Background())

	assert.Empty(t, publisher.events)
}

func TestScanner_Start_InvalidCron(t *testing.T) {
	repo := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	scanner := NewScanner("scanner-test", repo, &capturingPublisher{}, nil, time.Hour, logger)

	err := scanner.Start(context.Background(), "not a cron expression")
	require.Error(t, err)
}
