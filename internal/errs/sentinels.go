// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates bad credentials or an unknown session key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed input rejected before any storage access.
	ErrValidation = errors.New("validation")

	// ErrInternal indicates a storage, filesystem or otherwise unclassified failure.
	ErrInternal = errors.New("internal")

	// ErrRateLimited indicates too many failed logins; it is also ErrUnauthorized.
	ErrRateLimited = fmt.Errorf("%w: too many failed logins", ErrUnauthorized)
)

// Validation failures reported by registration.
var (
	ErrEmptyPassword = &ValidationError{Reason: "empty_password"}
	ErrBadEmail      = &ValidationError{Reason: "bad_email"}
)

// ValidationError carries the wire reason of a rejected input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InternalError wraps an unexpected failure with a caller-facing message.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Is makes every InternalError match ErrInternal.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// Internal wraps err as an internal failure. A nil err still yields an error.
func Internal(msg string, err error) error {
	return &InternalError{Msg: msg, Err: err}
}
