/*
errors.go - Centralized error types for the period-record engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (payroll, timeoff, importer) return these or wrap them
  with additional context.

ERROR CATEGORIES:
  1. Lookup errors - NotFound
  2. Validation errors - InvalidRange, ParseFailure, Validation
  3. State errors - InvalidState, InsufficientBalance
  4. Store errors - ConflictOnUpsert

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      // expected outcome at approval time, surface to the operator
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an identifier cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInsufficientBalance is returned when annual leave exceeds the
	// remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState is returned when a transition is attempted from a
	// state that does not allow it.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflictOnUpsert is returned when the (entity, period, kind)
	// uniqueness constraint rejects a write.
	ErrConflictOnUpsert = errors.New("conflict on upsert")

	// ErrParseFailure is returned for unparseable row fields.
	ErrParseFailure = errors.New("parse failure")

	// ErrValidation is returned when field values break a kind's rules.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden is returned when a principal asks for a scope it
	// cannot see.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names what could not be resolved.
type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientBalanceError provides details about a leave balance shortage.
type InsufficientBalanceError struct {
	EntityID  EntityID
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %v, requested %v",
		e.EntityID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidStateError describes a rejected transition.
type InvalidStateError struct {
	Subject string
	Current string
	Action  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in state %q", e.Action, e.Subject, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ParseError is a row-scoped field parse failure.
type ParseError struct {
	Field string
	Value any
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot parse %s %q: %v", e.Field, fmt.Sprint(e.Value), e.Err)
	}
	return fmt.Sprintf("cannot parse %s %q", e.Field, fmt.Sprint(e.Value))
}

func (e *ParseError) Unwrap() error { return ErrParseFailure }

// ValidationError reports a field that breaks a kind's rules.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a rejected transition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrParseFailure) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a uniqueness race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflictOnUpsert)
}
