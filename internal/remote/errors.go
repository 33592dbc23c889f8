package remote

import (
	"errors"
	"fmt"

	"github.com/gridstone/tidewater/internal/entity"
)

// Error represents a failure reported by (or while reaching) the remote
// store.
//
// Stale deltas are deliberately not part of this taxonomy: a delta
// rejected by the local version check is silently dropped and counted,
// never surfaced as an error.
type Error struct {
	// Code identifies the failure category.
	Code Code

	// Message is a human-readable description.
	Message string

	// EntityType and EntityID identify the affected entity, when known.
	EntityType entity.Type
	EntityID   string

	// Cause is the underlying transport error for CodeNetworkFailure.
	Cause error
}

// Code categorizes remote failures.
type Code string

const (
	// CodeNotFound indicates the mutation target (or parent scope) is absent.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates an id collision on create.
	CodeConflict Code = "CONFLICT"

	// CodeNetworkFailure indicates the remote store could not be reached
	// or returned an unreadable response.
	CodeNetworkFailure Code = "NETWORK_FAILURE"

	// CodeValidationFailure indicates a malformed payload, rejected
	// before reaching the durable store.
	CodeValidationFailure Code = "VALIDATION_FAILURE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (%s %s)", e.Code, e.Message, e.EntityType, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// IsNotFound returns true if err is a remote NOT_FOUND error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsConflict returns true if err is a remote CONFLICT error.
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsNetworkFailure returns true if err is a transport-level failure.
func IsNetworkFailure(err error) bool { return hasCode(err, CodeNetworkFailure) }

// IsValidation returns true if err is a payload validation failure.
func IsValidation(err error) bool { return hasCode(err, CodeValidationFailure) }

func hasCode(err error, code Code) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewNotFoundError creates an Error for an absent mutation target.
func NewNotFoundError(typ entity.Type, id string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    "entity not found",
		EntityType: typ,
		EntityID:   id,
	}
}

// NewScopeNotFoundError creates an Error for an unknown scope id.
func NewScopeNotFoundError(scopeID string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("scope %q not found", scopeID),
	}
}

// NewConflictError creates an Error for an id collision on create.
func NewConflictError(typ entity.Type, id string) *Error {
	return &Error{
		Code:       CodeConflict,
		Message:    "id already exists",
		EntityType: typ,
		EntityID:   id,
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, cause error) *Error {
	return &Error{
		Code:    CodeNetworkFailure,
		Message: op + " failed",
		Cause:   cause,
	}
}

// NewValidationError creates an Error for a malformed payload.
func NewValidationError(typ entity.Type, id, reason string) *Error {
	return &Error{
		Code:       CodeValidationFailure,
		Message:    reason,
		EntityType: typ,
		EntityID:   id,
	}
}
