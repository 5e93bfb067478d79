package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
	"github.com/closewise/closewise/pkg/persistence/memory"
)

func seedTransaction(t *testing.T, repo *memory.Persistence) (*models.Transaction, *models.TransactionStep) {
	t.Helper()

	ctx := context.Background()

	transaction := &models.Transaction{
		ID:                 "txn-1",
		Type:               models.TransactionTypePurchase,
		WorkflowTemplateID: "tmpl-1",
		Status:             models.TransactionStatusActive,
		Owner:              "user-1",
	}
	require.NoError(t, repo.CreateTransaction(ctx, transaction))

	step := &models.TransactionStep{
		ID:            "step-1",
		TransactionID: transaction.ID,
		StepOrder:     1,
		Name:          "Offer",
		Status:        models.StepStatusActive,
	}
	require.NoError(t, repo.CreateSteps(ctx, []*models.TransactionStep{step}))

	transaction.CurrentStepID = &step.ID
	require.NoError(t, repo.UpdateTransaction(ctx, transaction))

	return transaction, step
}

func TestTransactional_RestoresSnapshotOnError(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	_, step := seedTransaction(t, repo)

	sentinel := errors.New("boom")

	err := repo.Transactional(ctx, func(ctx context.Context, txRepo persistence.Repository) error {
		locked, err := txRepo.LockStep(ctx, step.ID)
		if err != nil {
			return err
		}

		locked.Status = models.StepStatusCompleted
		if err := txRepo.UpdateStep(ctx, locked); err != nil {
			return err
		}

		if err := txRepo.CreateCondition(ctx, &models.Condition{
			ID:            "cond-1",
			TransactionID: "txn-1",
			StepID:        &step.ID,
			LabelEN:       "Doomed",
			Status:        models.ConditionStatusPending,
		}); err != nil {
			return err
		}

		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	loaded, err := repo.StepByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusActive, loaded.Status)

	_, err = repo.ConditionByID(ctx, "cond-1")
	assert.ErrorIs(t, err, persistence.ErrConditionNotFound)
}

func TestTransactional_NestedCallsJoin(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	_, step := seedTransaction(t, repo)

	err := repo.Transactional(ctx, func(ctx context.Context, outer persistence.Repository) error {
		return outer.Transactional(ctx, func(ctx context.Context, inner persistence.Repository) error {
			locked, err := inner.LockStep(ctx, step.ID)
			if err != nil {
				return err
			}

			locked.Status = models.StepStatusCompleted

			return inner.UpdateStep(ctx, locked)
		})
	})
	require.NoError(t, err)

	loaded, err := repo.StepByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, loaded.Status)
}

func TestReads_ReturnCopies(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	_, step := seedTransaction(t, repo)

	loaded, err := repo.StepByID(ctx, step.ID)
	require.NoError(t, err)

	loaded.Status = models.StepStatusSkipped

	again, err := repo.StepByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusActive, again.Status, "mutating a read result must not touch the store")
}

func TestCreateTemplateCondition_Idempotent(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	transaction, step := seedTransaction(t, repo)

	templateID := "ct-1"

	inserted, err := repo.CreateTemplateCondition(ctx, &models.Condition{
		ID:            "cond-1",
		TransactionID: transaction.ID,
		StepID:        &step.ID,
		TemplateID:    &templateID,
		LabelEN:       "Financing approved",
		Status:        models.ConditionStatusPending,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.CreateTemplateCondition(ctx, &models.Condition{
		ID:            "cond-2",
		TransactionID: transaction.ID,
		StepID:        &step.ID,
		TemplateID:    &templateID,
		LabelEN:       "Financing approved",
		Status:        models.ConditionStatusPending,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	conditions, err := repo.ConditionsByTransaction(ctx, transaction.ID)
	require.NoError(t, err)
	assert.Len(t, conditions, 1)
}

func TestNotFoundSentinels(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	_, err := repo.TransactionByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrTransactionNotFound)

	_, err = repo.StepByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrStepNotFound)

	_, err = repo.ConditionByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrConditionNotFound)

	_, err = repo.ProfileByTransaction(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrProfileNotFound)

	_, err = repo.WorkflowTemplateByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrWorkflowTemplateNotFound)

	_, err = repo.OfferByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrOfferNotFound)
}

func TestDueConditions_FiltersAndSorts(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	transaction, step := seedTransaction(t, repo)

	near := time.Now().UTC().Add(6 * time.Hour)
	far := time.Now().UTC().Add(24 * time.Hour)
	past := time.Now().UTC().Add(-time.Hour)

	for _, c := range []*models.Condition{
		{ID: "c-far", TransactionID: transaction.ID, StepID: &step.ID, LabelEN: "Far", Status: models.ConditionStatusPending, DueDate: &far},
		{ID: "c-near", TransactionID: transaction.ID, StepID: &step.ID, LabelEN: "Near", Status: models.ConditionStatusPending, DueDate: &near},
		{ID: "c-past", TransactionID: transaction.ID, StepID: &step.ID, LabelEN: "Past", Status: models.ConditionStatusPending, DueDate: &past},
		{ID: "c-none", TransactionID: transaction.ID, StepID: &step.ID, LabelEN: "Undated", Status: models.ConditionStatusPending},
		{ID: "c-done", TransactionID: transaction.ID, StepID: &step.ID, LabelEN: "Done", Status: models.ConditionStatusCompleted, DueDate: &near},
	} {
		require.NoError(t, repo.CreateCondition(ctx, c))
	}

	due, err := repo.DueConditions(ctx, time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "Past", due[0].LabelEN)
	assert.Equal(t, "Near", due[1].LabelEN)
	assert.Equal(t, "Far", due[2].LabelEN)
}

func TestConditionEvents_AppendOnlyOrder(t *testing.T) {
	repo := memory.NewPersistence()
	ctx := context.Background()

	transaction, step := seedTransaction(t, repo)

	require.NoError(t, repo.CreateCondition(ctx, &models.Condition{
		ID:            "cond-1",
		TransactionID: transaction.ID,
		StepID:        &step.ID,
		LabelEN:       "Inspection",
		Status:        models.ConditionStatusPending,
	}))

	for _, eventType := range []models.ConditionEventType{
		models.ConditionEventCreated,
		models.ConditionEventResolved,
		models.ConditionEventArchived,
	} {
		require.NoError(t, repo.AppendConditionEvent(ctx, &models.ConditionEvent{
			ConditionID: "cond-1",
			EventType:   eventType,
			Actor:       "user-1",
		}))
	}

	events, err := repo.ConditionEvents(ctx, "cond-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.ConditionEventCreated, events[0].EventType)
	assert.Equal(t, models.ConditionEventResolved, events[1].EventType)
	assert.Equal(t, models.ConditionEventArchived, events[2].EventType)
}
