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

const offerColumns = `
	id
  , transaction_id
  , status
  , amount
  , counter_of
  , expires_at
  , created_at
  , updated_at
`

// CreateOffer inserts a new offer row.
func (p *Persistence) CreateOffer(ctx context.Context, offer *models.Offer) error {
	now := time.Now().UTC()

	if offer.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate offer ID: %w", err)
		}

		offer.ID = id.String()
	}

	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = now
	}

	offer.UpdatedAt = now

	query := `
		INSERT INTO offers (id, transaction_id, status, amount, counter_of, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := p.q.ExecContext(ctx, query,
		offer.ID,
		offer.TransactionID,
		offer.Status,
		offer.Amount,
		offer.CounterOf,
		offer.ExpiresAt,
		offer.CreatedAt,
		offer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}

	return nil
}

// OfferByID returns an offer by its ID.
func (p *Persistence) OfferByID(ctx context.Context, id string) (*models.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	var offer models.Offer

	err := p.q.QueryRowContext(ctx, query, id).Scan(
		&offer.ID,
		&offer.TransactionID,
		&offer.Status,
		&offer.Amount,
		&offer.CounterOf,
		&offer.ExpiresAt,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrOfferNotFound
		}

		return nil, fmt.Errorf("failed to scan offer: %w", err)
	}

	return &offer, nil
}

// UpdateOffer updates an offer's status.
func (p *Persistence) UpdateOffer(ctx context.Context, offer *models.Offer) error {
	offer.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE offers
		SET status = $2, expires_at = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := p.q.ExecContext(ctx, query, offer.ID, offer.Status, offer.ExpiresAt, offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrOfferNotFound
	}

	return nil
}

// OffersByTransaction returns all offers of a transaction, newest first.
func (p *Persistence) OffersByTransaction(ctx context.Context, transactionID string) ([]*models.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE transaction_id = $1 ORDER BY created_at DESC`

	rows, err := p.q.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}

	defer p.closeRows(ctx, rows)

	offers := make([]*models.Offer, 0)

	for rows.Next() {
		var offer models.Offer

		err := rows.Scan(
			&offer.ID,
			&offer.TransactionID,
			&offer.Status,
			&offer.Amount,
			&offer.CounterOf,
			&offer.ExpiresAt,
			&offer.CreatedAt,
			&offer.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}

		offers = append(offers, &offer)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	return offers, nil
}
