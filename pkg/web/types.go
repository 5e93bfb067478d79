// Package web provides HTTP request and response types for the transaction API.
package web

import (
	"time"

	"github.com/closewise/closewise/pkg/conditions"
	"github.com/closewise/closewise/pkg/models"
)

// Anchors carries the reference dates due-date calculation runs against.
type Anchors struct {
	AcceptanceDate *time.Time `json:"acceptance_date,omitempty"`
	ClosingDate    *time.Time `json:"closing_date,omitempty"`
}

func (a Anchors) toEngine() conditions.Anchors {
	return conditions.Anchors{
		AcceptanceDate: a.AcceptanceDate,
		ClosingDate:    a.ClosingDate,
	}
}

// CreateTransactionRequest represents the request body for creating a new
// transaction from a workflow template.
type CreateTransactionRequest struct {
	TemplateID string  `json:"template_id" validate:"required"`
	Owner      string  `json:"owner"       validate:"required"`
	Actor      string  `json:"actor"       validate:"required"`
	Anchors    Anchors `json:"anchors"`
}

// ResolutionRequest is one requested condition resolution inside a resolve or
// advance call.
type ResolutionRequest struct {
	ConditionID        string `json:"condition_id"         validate:"required"`
	ResolutionType     string `json:"resolution_type"      validate:"required,oneof=completed waived not_applicable skipped_with_risk"`
	Note               string `json:"note"`
	EscapeWithoutProof bool   `json:"escape_without_proof"`
	EscapeReason       string `json:"escape_reason"`
}

func toEngineResolutions(requests []ResolutionRequest) []conditions.Resolution {
	resolutions := make([]conditions.Resolution, 0, len(requests))
	for _, r := range requests {
		resolutions = append(resolutions, conditions.Resolution{
			ConditionID:        r.ConditionID,
			Type:               models.ResolutionType(r.ResolutionType),
			Note:               r.Note,
			EscapeWithoutProof: r.EscapeWithoutProof,
			EscapeReason:       r.EscapeReason,
		})
	}

	return resolutions
}

// AdvanceStepRequest represents the request body for advancing or skipping
// the current step of a transaction.
type AdvanceStepRequest struct {
	Actor       string              `json:"actor" validate:"required"`
	Resolutions []ResolutionRequest `json:"resolutions,omitempty"`
	Anchors     Anchors             `json:"anchors"`
}

// GoToStepRequest represents the request body for jumping the workflow to an
// arbitrary step order.
type GoToStepRequest struct {
	TargetOrder int    `json:"target_order" validate:"required,min=1"`
	Actor       string `json:"actor"        validate:"required"`
}

// LoadPackRequest represents the request body for loading the applicable
// condition template pack onto a transaction.
type LoadPackRequest struct {
	Actor   string  `json:"actor" validate:"required"`
	Anchors Anchors `json:"anchors"`
}

// ResolveConditionsRequest represents the request body for resolving one or
// more conditions outside a step transition.
type ResolveConditionsRequest struct {
	Actor       string              `json:"actor"       validate:"required"`
	Resolutions []ResolutionRequest `json:"resolutions" validate:"required,min=1,dive"`
}

// CreateConditionRequest represents the request body for manually adding a
// condition to a transaction step.
type CreateConditionRequest struct {
	StepID     string     `json:"transaction_step_id" validate:"required"`
	LabelEN    string     `json:"label_en"            validate:"required"`
	LabelFR    string     `json:"label_fr"`
	Level      string     `json:"level"               validate:"required,oneof=blocking required recommended"`
	SourceType string     `json:"source_type"         validate:"omitempty,oneof=legal government industry best_practice"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Actor      string     `json:"actor"               validate:"required"`
}

// SaveProfileRequest represents the request body for creating or updating a
// transaction profile.
type SaveProfileRequest struct {
	PropertyType  string `json:"property_type"  validate:"required"`
	Rural         bool   `json:"rural"`
	Financed      bool   `json:"financed"`
	HasWell       bool   `json:"has_well"`
	HasSeptic     bool   `json:"has_septic"`
	PrivateAccess bool   `json:"private_access"`
	CondoDocs     bool   `json:"condo_docs"`
}

// ReceiveOfferRequest represents the request body for recording a new offer
// on a transaction.
type ReceiveOfferRequest struct {
	Amount    int64      `json:"amount"               validate:"required,min=1"`
	CounterOf *string    `json:"counter_of,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Actor     string     `json:"actor"                validate:"required"`
}

// OfferActionRequest represents the request body for offer lifecycle actions
// (accept, reject, withdraw).
type OfferActionRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// AddPartyRequest represents the request body for announcing a new party on
// a transaction.
type AddPartyRequest struct {
	PartyID   string `json:"party_id"   validate:"required"`
	PartyName string `json:"party_name" validate:"required"`
	PartyRole string `json:"party_role" validate:"required"`
	Actor     string `json:"actor"      validate:"required"`
}

// RemovePartyRequest represents the request body for removing a party from a
// transaction.
type RemovePartyRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// BlockingConditionResponse is the filtered view of a condition returned when
// advancement is refused.
type BlockingConditionResponse struct {
	ID      string `json:"id"`
	LabelEN string `json:"label_en"`
	LabelFR string `json:"label_fr,omitempty"`
	Level   string `json:"level"`
}

// TransformBlockingConditions filters pending blockers down to what a client
// needs to render the refusal.
func TransformBlockingConditions(pending []*models.Condition) []BlockingConditionResponse {
	responses := make([]BlockingConditionResponse, 0, len(pending))
	for _, condition := range pending {
		responses = append(responses, BlockingConditionResponse{
			ID:      condition.ID,
			LabelEN: condition.LabelEN,
			LabelFR: condition.LabelFR,
			Level:   string(condition.EffectiveLevel()),
		})
	}

	return responses
}
