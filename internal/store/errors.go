package store

import (
	"errors"
	"fmt"

	"github.com/roach88/mbfit/internal/ir"
)

// ErrorCode categorizes ledger errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed geometry or input.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound indicates an unknown configuration or energy record.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeState indicates an illegal status transition.
	ErrCodeState ErrorCode = "INVALID_STATE"
)

// ValidationError reports malformed input. It is a data-integrity error and
// is always returned to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", ErrCodeValidation, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", ErrCodeValidation, e.Message)
}

// Code returns ErrCodeValidation.
func (e *ValidationError) Code() ErrorCode { return ErrCodeValidation }

// NotFoundError reports an unknown configuration id or energy record key.
type NotFoundError struct {
	// Kind is "configuration" or "energy record".
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrCodeNotFound, e.Kind, e.ID)
}

// Code returns ErrCodeNotFound.
func (e *NotFoundError) Code() ErrorCode { return ErrCodeNotFound }

// StateError reports an illegal status transition on an energy record.
type StateError struct {
	Op     string
	Key    ir.RecordKey
	Status ir.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s record %s [%s]: status is %s",
		ErrCodeState, e.Op, e.Key.ConfigurationID, e.Key.Model, e.Status)
}

// Code returns ErrCodeState.
func (e *StateError) Code() ErrorCode { return ErrCodeState }

// IsValidation returns true if err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound returns true if err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsState returns true if err wraps a *StateError.
func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

func recordID(key ir.RecordKey) string {
	return fmt.Sprintf("%s %s", key.ConfigurationID, key.Model)
}
