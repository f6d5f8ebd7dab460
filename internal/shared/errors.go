package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request was rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request was already processed or the state no longer allows it.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the actor lacks the permission for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientStock indicates a ledger movement would drive availability negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReconciliationRequired marks failures whose outcome in the backing store is unknown.
	ErrReconciliationRequired = errors.New("reconciliation required")
)

// ValidationError reports a field-level reason and unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidationErrors aggregates field errors collected in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+" "+fe.Reason)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e ValidationErrors) Unwrap() error {
	return ErrValidation
}

// Fields returns the reasons keyed by field name.
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, fe := range e {
		out[fe.Field] = fe.Reason
	}
	return out
}

// Invalid builds a single field validation error.
func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}
