package models

import "time"

// TransactionProfile is the small fact sheet used as predicate-matching input
// for condition template applicability. Created at most once per transaction;
// locked once the transaction has advanced past the first step.
type TransactionProfile struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id" validate:"required"`

	PropertyType  string `json:"property_type"`
	Rural         bool   `json:"rural"`
	Financed      bool   `json:"financed"`
	HasWell       bool   `json:"has_well"`
	HasSeptic     bool   `json:"has_septic"`
	PrivateAccess bool   `json:"private_access"`
	CondoDocs     bool   `json:"condo_docs"`

	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Facts flattens the profile into the key/value map condition template
// predicates are matched against.
func (p *TransactionProfile) Facts() map[string]any {
	return map[string]any{
		"property_type":  p.PropertyType,
		"rural":          p.Rural,
		"financed":       p.Financed,
		"has_well":       p.HasWell,
		"has_septic":     p.HasSeptic,
		"private_access": p.PrivateAccess,
		"condo_docs":     p.CondoDocs,
	}
}
