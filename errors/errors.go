// Package errors provides error handling for postpipe.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Sentinel errors for the scheduling engine.
// Use these with errors.Is() for type-safe error checking, and
// errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the referenced job does not exist
	ErrNotFound = New("not found")

	// ErrConflict indicates an id collision on insert. This is an
	// id-generation bug, never retried.
	ErrConflict = New("conflict")

	// ErrInvalidState indicates a requested transition violates the
	// job state machine (e.g. cancelling a dispatching job, or
	// recording an outcome twice)
	ErrInvalidState = New("invalid state")

	// ErrValidation indicates a malformed scheduling request, rejected
	// before any store mutation
	ErrValidation = New("validation failed")

	// ErrAuth indicates the credential provider could not supply a
	// valid token for the current attempt
	ErrAuth = New("authentication failed")

	// ErrTransient marks a publish failure expected to potentially
	// succeed on retry (network blip, rate limit, 5xx)
	ErrTransient = New("transient failure")

	// ErrPermanent marks a publish failure that will not succeed on
	// retry without external intervention (bad payload, revoked auth)
	ErrPermanent = New("permanent failure")
)

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsInvalidState checks if an error is or wraps ErrInvalidState
func IsInvalidState(err error) bool {
	return err != nil && Is(err, ErrInvalidState)
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsTransient checks if an error is or wraps ErrTransient
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransient)
}

// IsPermanent checks if an error is or wraps ErrPermanent.
// ErrAuth is deliberately not permanent: credentials may recover by the
// next tick, so auth failures route through the retry ceiling.
func IsPermanent(err error) bool {
	return err != nil && Is(err, ErrPermanent)
}

// NewNotFound creates a not-found error with a formatted message
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidation creates a validation error with a formatted message
func NewValidation(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewInvalidState creates a state-machine violation error. The job's
// current state is attached as a detail for diagnosis.
func NewInvalidState(id string, current string, attempted string) error {
	err := Wrapf(ErrInvalidState, "job %s: cannot %s", id, attempted)
	return WithDetailf(err, "current state: %s", current)
}

// Transient wraps an error as a transient publish failure
func Transient(err error, context string) error {
	return Wrap(Wrap(ErrTransient, err.Error()), context)
}

// Permanent wraps an error as a permanent publish failure
func Permanent(err error, context string) error {
	return Wrap(Wrap(ErrPermanent, err.Error()), context)
}
