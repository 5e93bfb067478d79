package conditions

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

	matched := []eventbus.Event{}

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func newTestEngine(t *testing.T) (*Engine, *memory.Persistence, *capturingPublisher) {
	t.Helper()

	repo := memory.NewPersistence()
	publisher := &capturingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewEngine(repo, publisher, logger), repo, publisher
}

func seedTransaction(t *testing.T, repo *memory.Persistence) (*models.Transaction, []*models.TransactionStep) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	transaction := &models.Transaction{
		ID:                 "txn-1",
		Type:               models.TransactionTypePurchase,
		WorkflowTemplateID: "tmpl-1",
		Status:             models.TransactionStatusActive,
		Owner:              "user-1",
	}
	require.NoError(t, repo.CreateTransaction(ctx, transaction))

	steps := []*models.TransactionStep{
		{ID: "step-1", TransactionID: transaction.ID, StepOrder: 1, Name: "Offer", Status: models.StepStatusActive, EnteredAt: &now},
		{ID: "step-2", TransactionID: transaction.ID, StepOrder: 2, Name: "Inspection", Status: models.StepStatusPending},
	}
	require.NoError(t, repo.CreateSteps(ctx, steps))

	transaction.CurrentStepID = &steps[0].ID
	require.NoError(t, repo.UpdateTransaction(ctx, transaction))

	return transaction, steps
}

func seedCondition(t *testing.T, repo *memory.Persistence, id string, stepID string, level models.ConditionLevel) *models.Condition {
	t.Helper()

	stepOne := 1
	condition := &models.Condition{
		ID:              id,
		TransactionID:   "txn-1",
		StepID:          &stepID,
		LabelEN:         "condition " + id,
		Level:           &level,
		IsBlocking:      level == models.LevelBlocking,
		Status:          models.ConditionStatusPending,
		StepWhenCreated: &stepOne,
	}
	require.NoError(t, repo.CreateCondition(context.Background(), condition))

	return condition
}

func TestEngine_LoadPack_Idempotent(t *testing.T) {
	engine, repo, publisher := newTestEngine(t)
	ctx := context.Background()

	_, _ = seedTransaction(t, repo)

	require.NoError(t, repo.SaveProfile(ctx, &models.TransactionProfile{
		ID:            "profile-1",
		TransactionID: "txn-1",
		PropertyType:  "rural",
		Rural:         true,
		HasWell:       true,
	}))

	stepTwo := 2
	templates := []*models.ConditionTemplate{
		{
			ID:          "ct-universal",
			LabelEN:     "Deposit received",
			Level:       models.LevelBlocking,
			SourceType:  models.SourceIndustry,
			Active:      true,
			StepOrder:   &stepTwo,
			DeadlineRef: models.DeadlineFromAcceptance, DeadlineOffsetDays: 5,
		},
		{
			ID:          "ct-well",
			LabelEN:     "Well water test",
			Level:       models.LevelRequired,
			SourceType:  models.SourceGovernment,
			Active:      true,
			AppliesWhen: map[string]any{"has_well": true},
		},
		{
			ID:          "ct-condo",
			LabelEN:     "Condo document review",
			Level:       models.LevelRequired,
			SourceType:  models.SourceLegal,
			Active:      true,
			AppliesWhen: map[string]any{"condo_docs": true},
		},
	}
	for _, template := range templates {
		require.NoError(t, repo.SaveConditionTemplate(ctx, template))
	}

	acceptance := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	anchors := Anchors{AcceptanceDate: &acceptance}

	result, err := engine.LoadPack(ctx, "txn-1", "user-1", anchors)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Loaded)
	assert.Equal(t, map[int]int{2: 1}, result.ByStep)

	conditions, err := repo.ConditionsByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, conditions, 2)

	var deposit *models.Condition

	for _, condition := range conditions {
		if condition.TemplateID != nil && *condition.TemplateID == "ct-universal" {
			deposit = condition
		}
	}

	require.NotNil(t, deposit)
	require.NotNil(t, deposit.DueDate)
	assert.Equal(t, acceptance.AddDate(0, 0, 5), *deposit.DueDate)
	assert.Equal(t, "step-2", *deposit.StepID)

	auditEvents, err := repo.ConditionEvents(ctx, deposit.ID)
	require.NoError(t, err)
	require.Len(t, auditEvents, 1)
	assert.Equal(t, models.ConditionEventCreated, auditEvents[0].EventType)
	assert.Equal(t, "user-1", auditEvents[0].Actor)

	// Second load with unchanged inputs creates nothing.
	again, err := engine.LoadPack(ctx, "txn-1", "user-1", anchors)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Loaded)

	conditions, err = repo.ConditionsByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Len(t, conditions, 2)

	assert.Len(t, publisher.events, 2)
}

func TestEngine_LoadPack_MissingAnchorLeavesDueDateUnset(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, _ = seedTransaction(t, repo)

	require.NoError(t, repo.SaveConditionTemplate(ctx, &models.ConditionTemplate{
		ID:          "ct-closing",
		LabelEN:     "Title search",
		Level:       models.LevelRequired,
		SourceType:  models.SourceLegal,
		Active:      true,
		DeadlineRef: models.DeadlineFromClosing, DeadlineOffsetDays: -10,
	}))

	result, err := engine.LoadPack(ctx, "txn-1", "user-1", Anchors{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)

	conditions, err := repo.ConditionsByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Nil(t, conditions[0].DueDate)
}

func TestEngine_CheckStepAdvancement(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)

	blocking := seedCondition(t, repo, "c-blocking", steps[0].ID, models.LevelBlocking)
	required := seedCondition(t, repo, "c-required", steps[0].ID, models.LevelRequired)
	recommended := seedCondition(t, repo, "c-recommended", steps[0].ID, models.LevelRecommended)
	seedCondition(t, repo, "c-other-step", steps[1].ID, models.LevelBlocking)

	check, err := engine.CheckStepAdvancement(ctx, steps[0])
	require.NoError(t, err)
	assert.False(t, check.CanAdvance)
	require.Len(t, check.Blocking, 1)
	assert.Equal(t, blocking.ID, check.Blocking[0].ID)
	require.Len(t, check.RequiredPending, 1)
	assert.Equal(t, required.ID, check.RequiredPending[0].ID)
	require.Len(t, check.RecommendedPending, 1)
	assert.Equal(t, recommended.ID, check.RecommendedPending[0].ID)

	_, err = engine.Resolve(ctx, []Resolution{
		{ConditionID: blocking.ID, Type: models.ResolutionCompleted},
		{ConditionID: required.ID, Type: models.ResolutionCompleted},
	}, "user-1")
	require.NoError(t, err)

	check, err = engine.CheckStepAdvancement(ctx, steps[0])
	require.NoError(t, err)
	assert.True(t, check.CanAdvance)
	assert.Empty(t, check.Blocking)
	assert.Empty(t, check.RequiredPending)
	assert.Len(t, check.RecommendedPending, 1)
}

func TestEngine_CheckStepAdvancement_LegacyIsBlockingFallback(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)

	stepOne := 1
	legacy := &models.Condition{
		ID:              "c-legacy",
		TransactionID:   "txn-1",
		StepID:          &steps[0].ID,
		LabelEN:         "legacy blocking",
		IsBlocking:      true,
		Status:          models.ConditionStatusPending,
		StepWhenCreated: &stepOne,
	}
	require.NoError(t, repo.CreateCondition(ctx, legacy))

	check, err := engine.CheckStepAdvancement(ctx, steps[0])
	require.NoError(t, err)
	assert.False(t, check.CanAdvance)
	require.Len(t, check.Blocking, 1)
	assert.Equal(t, "c-legacy", check.Blocking[0].ID)
}

func TestEngine_Resolve_Policy(t *testing.T) {
	tests := []struct {
		name       string
		level      models.ConditionLevel
		resolution Resolution
		wantErr    error
	}{
		{
			name:       "blocking cannot be skipped with risk",
			level:      models.LevelBlocking,
			resolution: Resolution{Type: models.ResolutionSkippedWithRisk, Note: "taking the risk"},
			wantErr:    ErrBlockingSkipWithRisk,
		},
		{
			name:       "blocking completes normally",
			level:      models.LevelBlocking,
			resolution: Resolution{Type: models.ResolutionCompleted},
		},
		{
			name:       "blocking escape needs a substantial reason",
			level:      models.LevelBlocking,
			resolution: Resolution{Type: models.ResolutionWaived, EscapeWithoutProof: true, EscapeReason: "too short"},
			wantErr:    ErrEscapeReasonTooShort,
		},
		{
			name:       "blocking escape with sufficient reason",
			level:      models.LevelBlocking,
			resolution: Resolution{Type: models.ResolutionWaived, EscapeWithoutProof: true, EscapeReason: "seller provided verbal confirmation"},
		},
		{
			name:       "blocking escape reason measured in runes not bytes",
			level:      models.LevelBlocking,
			resolution: Resolution{Type: models.ResolutionWaived, EscapeWithoutProof: true, EscapeReason: "\u00e9\u00e9\u00e9\u00e9\u00e9"},
			wantErr:    ErrEscapeReasonTooShort,
		},
		{
			name:       "blocking escape with accented ten-rune reason",
			level:      models.LevelBlocking,
			resolution: Resolution{Type: models.ResolutionWaived, EscapeWithoutProof: true, EscapeReason: "d\u00e9rogation"},
		},
		{
			name:       "required non-completed needs a note",
			level:      models.LevelRequired,
			resolution: Resolution{Type: models.ResolutionWaived},
			wantErr:    ErrNoteRequired,
		},
		{
			name:       "required waived with note",
			level:      models.LevelRequired,
			resolution: Resolution{Type: models.ResolutionWaived, Note: "covered by lender condition"},
		},
		{
			name:       "required completed needs no note",
			level:      models.LevelRequired,
			resolution: Resolution{Type: models.ResolutionCompleted},
		},
		{
			name:       "recommended skipped with risk",
			level:      models.LevelRecommended,
			resolution: Resolution{Type: models.ResolutionSkippedWithRisk},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, repo, _ := newTestEngine(t)
			ctx := context.Background()

			_, steps := seedTransaction(t, repo)
			condition := seedCondition(t, repo, "c-1", steps[0].ID, tt.level)

			tt.resolution.ConditionID = condition.ID

			resolved, err := engine.Resolve(ctx, []Resolution{tt.resolution}, "user-1")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsPolicyViolation(err))

				// Nothing applied.
				stored, lookupErr := repo.ConditionByID(ctx, condition.ID)
				require.NoError(t, lookupErr)
				assert.Equal(t, models.ConditionStatusPending, stored.Status)

				return
			}

			require.NoError(t, err)
			require.Len(t, resolved, 1)

			stored, err := repo.ConditionByID(ctx, condition.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ConditionStatusCompleted, stored.Status)
			assert.Equal(t, tt.resolution.Type, stored.ResolutionType)
			assert.Equal(t, "user-1", stored.ResolvedBy)
			require.NotNil(t, stored.StepWhenResolved)
			assert.Equal(t, 1, *stored.StepWhenResolved)
		})
	}
}

func TestEngine_Resolve_BatchIsAllOrNothing(t *testing.T) {
	engine, repo, publisher := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)

	good := seedCondition(t, repo, "c-good", steps[0].ID, models.LevelRecommended)
	bad := seedCondition(t, repo, "c-bad", steps[0].ID, models.LevelBlocking)

	_, err := engine.Resolve(ctx, []Resolution{
		{ConditionID: good.ID, Type: models.ResolutionCompleted},
		{ConditionID: bad.ID, Type: models.ResolutionSkippedWithRisk},
	}, "user-1")
	require.ErrorIs(t, err, ErrBlockingSkipWithRisk)

	stored, err := repo.ConditionByID(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionStatusPending, stored.Status)

	assert.Empty(t, publisher.ofType(events.ConditionCompletedEvent))
}

func TestEngine_Resolve_ArchivedConditionIsImmutable(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)

	condition := seedCondition(t, repo, "c-1", steps[0].ID, models.LevelRequired)
	condition.Status = models.ConditionStatusCompleted
	condition.ResolutionType = models.ResolutionCompleted
	condition.Archived = true
	require.NoError(t, repo.UpdateCondition(ctx, condition))

	_, err := engine.Resolve(ctx, []Resolution{
		{ConditionID: condition.ID, Type: models.ResolutionWaived, Note: "changed my mind"},
	}, "user-1")
	require.ErrorIs(t, err, ErrConditionArchived)

	stored, err := repo.ConditionByID(ctx, condition.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionCompleted, stored.ResolutionType)
	assert.True(t, stored.Archived)
}

func TestEngine_Resolve_ResolvedConditionIsFinal(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)
	condition := seedCondition(t, repo, "c-1", steps[0].ID, models.LevelRequired)

	_, err := engine.Resolve(ctx, []Resolution{
		{ConditionID: condition.ID, Type: models.ResolutionCompleted},
	}, "user-1")
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, []Resolution{
		{ConditionID: condition.ID, Type: models.ResolutionWaived, Note: "second thoughts"},
	}, "user-2")
	require.ErrorIs(t, err, ErrConditionAlreadyResolved)
	assert.True(t, IsPolicyViolation(err))

	stored, err := repo.ConditionByID(ctx, condition.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionCompleted, stored.ResolutionType)
	assert.Equal(t, "user-1", stored.ResolvedBy)

	auditEvents, err := repo.ConditionEvents(ctx, condition.ID)
	require.NoError(t, err)

	resolvedEvents := 0

	for _, event := range auditEvents {
		if event.EventType == models.ConditionEventResolved {
			resolvedEvents++
		}
	}

	assert.Equal(t, 1, resolvedEvents)
}

func TestEngine_ArchiveOnStepChange(t *testing.T) {
	t.Run("pending blocking is fatal", func(t *testing.T) {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		_, steps := seedTransaction(t, repo)
		seedCondition(t, repo, "c-blocking", steps[0].ID, models.LevelBlocking)

		_, err := engine.ArchiveOnStepChange(ctx, repo, steps[0], steps[1], "user-1", nil, false)
		require.ErrorIs(t, err, ErrBlockingConditionsRemain)
	})

	t.Run("pending required without resolution is fatal", func(t *testing.T) {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		_, steps := seedTransaction(t, repo)
		seedCondition(t, repo, "c-required", steps[0].ID, models.LevelRequired)

		_, err := engine.ArchiveOnStepChange(ctx, repo, steps[0], steps[1], "user-1", nil, false)
		require.ErrorIs(t, err, ErrRequiredResolutionsNeeded)
	})

	t.Run("supplied resolution satisfies required and recommended auto-resolves", func(t *testing.T) {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		_, steps := seedTransaction(t, repo)
		required := seedCondition(t, repo, "c-required", steps[0].ID, models.LevelRequired)
		recommended := seedCondition(t, repo, "c-recommended", steps[0].ID, models.LevelRecommended)

		resolved, err := engine.ArchiveOnStepChange(ctx, repo, steps[0], steps[1], "user-1", []Resolution{
			{ConditionID: required.ID, Type: models.ResolutionWaived, Note: "waived by buyer"},
		}, false)
		require.NoError(t, err)
		assert.Len(t, resolved, 2)

		storedRequired, err := repo.ConditionByID(ctx, required.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ResolutionWaived, storedRequired.ResolutionType)
		assert.True(t, storedRequired.Archived)
		require.NotNil(t, storedRequired.ArchivedStep)
		assert.Equal(t, 2, *storedRequired.ArchivedStep)
		require.NotNil(t, storedRequired.StepWhenResolved)
		assert.Equal(t, 1, *storedRequired.StepWhenResolved)

		storedRecommended, err := repo.ConditionByID(ctx, recommended.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConditionStatusCompleted, storedRecommended.Status)
		assert.Equal(t, models.ResolutionNotApplicable, storedRecommended.ResolutionType)
		assert.Equal(t, SystemActor, storedRecommended.ResolvedBy)
		assert.NotEmpty(t, storedRecommended.Note)
		assert.True(t, storedRecommended.Archived)

		auditEvents, err := repo.ConditionEvents(ctx, recommended.ID)
		require.NoError(t, err)
		require.Len(t, auditEvents, 2)
		assert.Equal(t, models.ConditionEventResolved, auditEvents[0].EventType)
		assert.Equal(t, SystemActor, auditEvents[0].Actor)
		assert.Equal(t, models.ConditionEventArchived, auditEvents[1].EventType)
	})

	t.Run("resolution outside the outgoing step is rejected", func(t *testing.T) {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		_, steps := seedTransaction(t, repo)
		other := seedCondition(t, repo, "c-other", steps[1].ID, models.LevelRequired)

		_, err := engine.ArchiveOnStepChange(ctx, repo, steps[0], steps[1], "user-1", []Resolution{
			{ConditionID: other.ID, Type: models.ResolutionCompleted},
		}, false)
		require.ErrorIs(t, err, ErrUnknownResolutionCondition)
	})

	t.Run("bypass archives pending blocking without resolving it", func(t *testing.T) {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		_, steps := seedTransaction(t, repo)
		blocking := seedCondition(t, repo, "c-blocking", steps[0].ID, models.LevelBlocking)

		resolved, err := engine.ArchiveOnStepChange(ctx, repo, steps[0], steps[1], "user-1", nil, true)
		require.NoError(t, err)
		assert.Empty(t, resolved)

		stored, err := repo.ConditionByID(ctx, blocking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConditionStatusPending, stored.Status)
		assert.True(t, stored.Archived)
		require.NotNil(t, stored.ArchivedStep)
		assert.Equal(t, 2, *stored.ArchivedStep)
	})

	t.Run("final step archives against itself", func(t *testing.T) {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		_, steps := seedTransaction(t, repo)
		condition := seedCondition(t, repo, "c-1", steps[1].ID, models.LevelRecommended)

		_, err := engine.ArchiveOnStepChange(ctx, repo, steps[1], nil, "user-1", nil, false)
		require.NoError(t, err)

		stored, err := repo.ConditionByID(ctx, condition.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.ArchivedStep)
		assert.Equal(t, 2, *stored.ArchivedStep)
	})
}

func TestEngine_CreateManual(t *testing.T) {
	engine, repo, publisher := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)

	level := models.LevelBlocking
	condition, err := engine.CreateManual(ctx, &models.Condition{
		TransactionID: "txn-1",
		StepID:        &steps[0].ID,
		LabelEN:       "Confirm deposit wire",
		Level:         &level,
	}, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, condition.ID)

	stored, err := repo.ConditionByID(ctx, condition.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionStatusPending, stored.Status)
	assert.True(t, stored.IsBlocking)
	require.NotNil(t, stored.StepWhenCreated)
	assert.Equal(t, 1, *stored.StepWhenCreated)

	auditEvents, err := repo.ConditionEvents(ctx, condition.ID)
	require.NoError(t, err)
	require.Len(t, auditEvents, 1)
	assert.Equal(t, models.ConditionEventCreated, auditEvents[0].EventType)

	assert.Len(t, publisher.ofType(events.ConditionCreatedEvent), 1)
}

func TestEngine_InstantiateStepConditions(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, steps := seedTransaction(t, repo)

	require.NoError(t, repo.SaveProfile(ctx, &models.TransactionProfile{
		ID:            "profile-1",
		TransactionID: "txn-1",
		HasWell:       true,
	}))

	stepOne := 1
	require.NoError(t, repo.SaveConditionTemplate(ctx, &models.ConditionTemplate{
		ID:         "ct-well",
		LabelEN:    "Well water test",
		Level:      models.LevelRequired,
		SourceType: models.SourceGovernment,
		Active:     true,
		Default:    true,
		StepOrder:  &stepOne,
		AppliesWhen: map[string]any{
			"has_well": true,
		},
	}))

	templateStep := &models.WorkflowStep{
		ID:        "ws-1",
		StepOrder: 1,
		Name:      "Offer",
		Conditions: []*models.WorkflowStepCondition{
			{ID: "wsc-1", LabelEN: "Signed purchase agreement", Level: models.LevelBlocking},
		},
	}

	created, err := engine.InstantiateStepConditions(ctx, repo, "txn-1", steps[0], templateStep, Anchors{}, "user-1")
	require.NoError(t, err)
	assert.Len(t, created, 2)

	conditions, err := repo.ConditionsByStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Len(t, conditions, 2)

	// Re-entry creates nothing new.
	created, err = engine.InstantiateStepConditions(ctx, repo, "txn-1", steps[0], templateStep, Anchors{}, "user-1")
	require.NoError(t, err)
	assert.Empty(t, created)

	conditions, err = repo.ConditionsByStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Len(t, conditions, 2)
}
