package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTransient    = errors.New("transient failure")
	ErrRateLimited  = errors.New("rate limited")
)

// Validationf wraps ErrValidation with a caller-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Transient marks err as retryable without losing the original cause.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Retryable reports whether err should be retried with backoff. Validation,
// authorization and not-found failures are final; everything unclassified is
// treated as transient, matching how network and store timeouts surface.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict):
		return false
	}
	return true
}
