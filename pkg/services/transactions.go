package services

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// TransactionView bundles a transaction with its steps for read endpoints.
type TransactionView struct {
	Transaction *models.Transaction       `json:"transaction"`
	Steps       []*models.TransactionStep `json:"steps"`
	Conditions  []*models.Condition       `json:"conditions"`
}

// Transactions serves transaction reads and profile writes.
type Transactions struct {
	repo     persistence.Repository
	validate *validator.Validate
}

func NewTransactions(repo persistence.Repository, validate *validator.Validate) *Transactions {
	return &Transactions{
		repo:     repo,
		validate: validate,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Transactions) HealthCheck(ctx context.Context) (string, bool) {
	err := s.repo.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Get returns the transaction with its steps and conditions.
func (s *Transactions) Get(ctx context.Context, transactionID string) (*TransactionView, error) {
	transaction, err := s.repo.TransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	steps, err := s.repo.StepsByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	conditions, err := s.repo.ConditionsByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return &TransactionView{
		Transaction: transaction,
		Steps:       steps,
		Conditions:  conditions,
	}, nil
}

// ConditionHistory returns the append-only audit trail of a condition.
func (s *Transactions) ConditionHistory(ctx context.Context, conditionID string) ([]*models.ConditionEvent, error) {
	_, err := s.repo.ConditionByID(ctx, conditionID)
	if err != nil {
		return nil, err
	}

	return s.repo.ConditionEvents(ctx, conditionID)
}

// SaveProfile creates or updates the transaction's fact sheet. The profile
// locks once the transaction has advanced past its first step; facts that fed
// template matching must not drift afterwards.
func (s *Transactions) SaveProfile(ctx context.Context, profile *models.TransactionProfile) (*models.TransactionProfile, error) {
	err := s.validate.Struct(profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	err = s.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		transaction, err := repo.TransactionByID(ctx, profile.TransactionID)
		if err != nil {
			return err
		}

		existing, err := repo.ProfileByTransaction(ctx, profile.TransactionID)
		if err != nil && !persistence.IsNotFound(err) {
			return err
		}

		if existing != nil {
			if existing.Locked {
				return ErrProfileLocked
			}

			profile.ID = existing.ID
			profile.CreatedAt = existing.CreatedAt
		}

		locked, err := pastFirstStep(ctx, repo, transaction)
		if err != nil {
			return err
		}

		if locked {
			if existing != nil {
				return ErrProfileLocked
			}

			profile.Locked = true
		}

		return repo.SaveProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}

	return profile, nil
}

func pastFirstStep(ctx context.Context, repo persistence.Repository, transaction *models.Transaction) (bool, error) {
	if transaction.CurrentStepID == nil {
		return true, nil
	}

	step, err := repo.StepByID(ctx, *transaction.CurrentStepID)
	if err != nil {
		return false, err
	}

	return step.StepOrder > 1, nil
}
