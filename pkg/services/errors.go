// Package services provides the request-facing application services on top
// of the workflow and conditions engines: transaction queries, profile
// management, and template import.
package services

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")

	// ErrProfileLocked is returned when editing a transaction profile after
	// the transaction advanced past its first step.
	ErrProfileLocked = errors.New("transaction profile is locked")

	// ErrInvalidTemplateDocument is returned when an imported template
	// document fails schema validation.
	ErrInvalidTemplateDocument = errors.New("invalid template document")
)
