package services

import (
	"errors"
	"fmt"

	"fiatmesh/internal/store"
)

// ErrNotFound is the service-level alias for a missing record.
var ErrNotFound = store.ErrNotFound

// ValidationError covers caller-correctable rejections: missing or invalid
// fields, wrong order/task status for the requested action, duplicate or
// self votes, insufficient available stake. No state is mutated.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthorizationError covers rejected callers: non-admin addresses and
// unregistered, inactive or slashed validators. No state is mutated.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

func authorizationf(format string, args ...any) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
