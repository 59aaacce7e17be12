// Package apperror holds the error taxonomy shared by the collaboration core.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateMembership = errors.New("collaborator already exists for this assessment")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNotFound            = errors.New("not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrTransient           = errors.New("transient storage or transport failure")
	ErrInvalidInput        = errors.New("invalid input")
)

// Transient wraps an infrastructure failure so callers can match it with
// errors.Is(err, ErrTransient) while keeping the cause.
func Transient(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, cause)
}

// Denied builds a PermissionDenied error naming the refused action.
func Denied(action string) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, action)
}

// Invalid builds an InvalidInput error with a reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
