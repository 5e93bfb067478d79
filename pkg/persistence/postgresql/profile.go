package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// SaveProfile upserts the fact sheet of a transaction. One profile per
// transaction.
func (p *Persistence) SaveProfile(ctx context.Context, profile *models.TransactionProfile) error {
	now := time.Now().UTC()

	if profile.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate profile ID: %w", err)
		}

		profile.ID = id.String()
	}

	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	profile.UpdatedAt = now

	query := `
		INSERT INTO transaction_profiles (id, transaction_id, property_type, rural, financed,
			has_well, has_septic, private_access, condo_docs, locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (transaction_id) DO UPDATE SET
			property_type = EXCLUDED.property_type,
			rural = EXCLUDED.rural,
			financed = EXCLUDED.financed,
			has_well = EXCLUDED.has_well,
			has_septic = EXCLUDED.has_septic,
			private_access = EXCLUDED.private_access,
			condo_docs = EXCLUDED.condo_docs,
			locked = EXCLUDED.locked,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.q.ExecContext(ctx, query,
		profile.ID,
		profile.TransactionID,
		profile.PropertyType,
		profile.Rural,
		profile.Financed,
		profile.HasWell,
		profile.HasSeptic,
		profile.PrivateAccess,
		profile.CondoDocs,
		profile.Locked,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// ProfileByTransaction returns the profile of a transaction.
func (p *Persistence) ProfileByTransaction(ctx context.Context, transactionID string) (*models.TransactionProfile, error) {
	query := `
		SELECT id, transaction_id, property_type, rural, financed,
			has_well, has_septic, private_access, condo_docs, locked, created_at, updated_at
		FROM transaction_profiles
		WHERE transaction_id = $1
	`

	var profile models.TransactionProfile

	err := p.q.QueryRowContext(ctx, query, transactionID).Scan(
		&profile.ID,
		&profile.TransactionID,
		&profile.PropertyType,
		&profile.Rural,
		&profile.Financed,
		&profile.HasWell,
		&profile.HasSeptic,
		&profile.PrivateAccess,
		&profile.CondoDocs,
		&profile.Locked,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrProfileNotFound
		}

		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	return &profile, nil
}
