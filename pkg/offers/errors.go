package offers

import "errors"

var (
	// ErrOfferNotOpen signals a transition on an offer that already reached a
	// terminal status.
	ErrOfferNotOpen = errors.New("offer is not open for transitions")
	// ErrOfferAlreadyAccepted signals an acceptance attempt while the
	// transaction already carries an accepted offer.
	ErrOfferAlreadyAccepted = errors.New("transaction already has an accepted offer")
)
