// Package errors is jobhost's error toolkit.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, inspects
// and annotates errors the same way:
//
//	if err := store.AppendRun(ctx, rec); err != nil {
//	    return errors.Wrap(err, "append run")
//	}
//
// Secondary errors keep a cleanup failure attached to the primary failure
// without replacing it:
//
//	err = errors.WithSecondaryError(err, cleanupErr)
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Details and hints
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	GetAllHints        = crdb.GetAllHints
	FlattenHints       = crdb.FlattenHints
)

// Inspection
var (
	Is               = crdb.Is
	IsAny            = crdb.IsAny
	As               = crdb.As
	Unwrap           = crdb.Unwrap
	UnwrapOnce       = crdb.UnwrapOnce
	UnwrapAll        = crdb.UnwrapAll
	Join             = crdb.Join
	CombineErrors    = crdb.CombineErrors
	GetStack         = crdb.GetReportableStackTrace
	Handled          = crdb.Handled
	AssertionFailedf = crdb.AssertionFailedf
)

// Common sentinels shared across packages.
var (
	// ErrNotFound indicates the requested job or record does not exist.
	ErrNotFound = New("not found")

	// ErrClosed indicates the component has been shut down.
	ErrClosed = New("closed")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
