package models

import "time"

// OfferStatus is the lifecycle state of a negotiation offer.
type OfferStatus string

const (
	OfferStatusReceived  OfferStatus = "received"
	OfferStatusCountered OfferStatus = "countered"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusWithdrawn OfferStatus = "withdrawn"
	OfferStatusExpired   OfferStatus = "expired"
)

// Offer is one negotiation offer on a transaction. At most one offer per
// transaction ever reaches accepted; siblings are auto-rejected on acceptance.
type Offer struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transaction_id" validate:"required"`
	Status        OfferStatus `json:"status"`
	Amount        int64       `json:"amount"         validate:"required,min=1"`
	CounterOf     *string     `json:"counter_of,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Open reports whether the offer can still transition (received or countered).
func (o *Offer) Open() bool {
	return o.Status == OfferStatusReceived || o.Status == OfferStatusCountered
}
