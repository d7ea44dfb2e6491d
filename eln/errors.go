// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package eln defines the error taxonomy shared by the ELN subsystems.
//
// Each class is a stable error kind; the request surface maps kinds to HTTP
// statuses. Components wrap their failures into exactly one of these classes
// so that callers can branch on Class.Has without knowing the package that
// produced the error.
package eln

import "github.com/zeebo/errs"

var (
	// ErrUnauthenticated means the request carried no valid identity.
	ErrUnauthenticated = errs.Class("unauthenticated")
	// ErrForbidden means the identity is valid but not allowed.
	ErrForbidden = errs.Class("forbidden")
	// ErrNotFound means the referenced object does not exist.
	ErrNotFound = errs.Class("not found")
	// ErrConflict means a conditional write lost against an existing object.
	ErrConflict = errs.Class("conflict")
	// ErrInvalid means malformed input, including filename codec rejections.
	ErrInvalid = errs.Class("invalid")
	// ErrTooLarge means an upload exceeded a configured size cap.
	ErrTooLarge = errs.Class("too large")
	// ErrForbiddenType means an upload had a disallowed extension.
	ErrForbiddenType = errs.Class("forbidden type")
	// ErrIO means a transient backend failure.
	ErrIO = errs.Class("io")
	// ErrPartialFailure means a submission body committed but one or more
	// attachment moves are still pending.
	ErrPartialFailure = errs.Class("partial failure")
	// ErrProviderUnreachable means the identity provider could not be reached.
	ErrProviderUnreachable = errs.Class("provider unreachable")
)

// Kind returns the stable kind string for err, or "internal" when the error
// belongs to none of the taxonomy classes.
func Kind(err error) string {
	switch {
	case ErrUnauthenticated.Has(err):
		return "unauthenticated"
	case ErrForbidden.Has(err):
		return "forbidden"
	case ErrNotFound.Has(err):
		return "not found"
	case ErrConflict.Has(err):
		return "conflict"
	case ErrInvalid.Has(err):
		return "invalid"
	case ErrTooLarge.Has(err):
		return "too large"
	case ErrForbiddenType.Has(err):
		return "forbidden type"
	case ErrPartialFailure.Has(err):
		return "partial failure"
	case ErrProviderUnreachable.Has(err):
		return "provider unreachable"
	case ErrIO.Has(err):
		return "io"
	}
	return "internal"
}
