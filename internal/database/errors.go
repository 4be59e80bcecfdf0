package database

import (
	"errors"
	"fmt"
	"slices"

	"github.com/needful-app/needful/supabase/client"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabaseError = errors.New("database error")
	ErrConflict      = errors.New("conflict")
)

// NotFoundError identifies the missing row.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError returns an error matching ErrNotFound.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ValidateStatus checks status against the allowed set.
func ValidateStatus(status string, allowed []string) error {
	if slices.Contains(allowed, status) {
		return nil
	}
	return fmt.Errorf("%w: status %q must be one of %v", ErrInvalidInput, status, allowed)
}

// wrapError classifies a client error for op.
func wrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsConflict(err):
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	case client.IsNotFound(err):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDatabaseError, op, err)
	}
}
