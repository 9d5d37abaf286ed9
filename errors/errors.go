// Package errors provides error handling for inflow.
//
// It re-exports github.com/cockroachdb/errors so callers get stack traces,
// wrapping, and hint support without importing two error packages, and it
// defines the sentinel errors shared across the import pipeline.
//
// Usage:
//
//	if err := store.SavePlan(plan); err != nil {
//	    return errors.Wrap(err, "persist plan")
//	}
//
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle missing session
//	}
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
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors shared across inflow packages.
// Use with errors.Is() and wrap with errors.Wrap() to add context
// while preserving the type.
var (
	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")

	// ErrPlanBlocked indicates a plan has unresolved classifications and
	// cannot be executed until a human resolves them
	ErrPlanBlocked = New("plan blocked on unresolved classifications")

	// ErrExecutionRunning indicates another execution attempt is already
	// running against the same plan
	ErrExecutionRunning = New("execution already running")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflictError checks if an error is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// WrapNotFound wraps an error as a not-found error with context.
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
