// Package fault defines the error kinds shared across the control plane.
// Components classify failures with these sentinels; the API layer and the
// cloud emulation translators map them to their wire encodings.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller does not own the addressed entity.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means a uniqueness or state-transition violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalid means a shape, enum, or range violation in the request.
	ErrInvalid = errors.New("invalid request")
	// ErrTimeout means a bounded external call exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrTooManyRequests means a rate or quota limit was hit.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrPortsExhausted means no host port is free in the allocator range.
	// It is a Conflict for transport purposes.
	ErrPortsExhausted = fmt.Errorf("%w: ports exhausted", ErrConflict)
	// ErrProvisioning means a downstream failure during create or start.
	ErrProvisioning = errors.New("provisioning failure")
	// ErrInternal is the unclassified fallback.
	ErrInternal = errors.New("internal error")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Forbiddenf wraps ErrForbidden with context.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

// Invalidf wraps ErrInvalid with context.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
}

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// RateLimitedf wraps ErrTooManyRequests with context.
func RateLimitedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTooManyRequests)...)
}

// Provisioningf wraps ErrProvisioning with context.
func Provisioningf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrProvisioning)...)
}
