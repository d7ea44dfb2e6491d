// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package auth verifies bearer tokens against the configured identity
// provider and evaluates permission patterns.
package auth

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
)

// Error is the default auth error class.
var Error = errs.Class("auth")

var (
	// ErrTokenExpired refines eln.ErrUnauthenticated for expired tokens.
	ErrTokenExpired = errs.Class("token expired")
	// ErrTokenMalformed refines eln.ErrUnauthenticated for tokens that do
	// not parse.
	ErrTokenMalformed = errs.Class("token malformed")
)

// User is the identity derived from a validated token. It is never
// persisted; permissions are attached per request from tenant config.
type User struct {
	// ID is the delimiter-scrubbed identity used in filenames. The raw
	// claim is normalized deterministically, never stored.
	ID          string
	Email       string
	Groups      []string
	Permissions []string
	IsAdmin     bool
}

// Validator validates a bearer token and derives a User.
//
// Implementations never log tokens or claim values.
type Validator interface {
	Validate(ctx context.Context, bearer string) (*User, error)
}

// deriveID normalizes an identity claim for filename use. Delimiter and
// other unsafe bytes become '_'; the mapping is deterministic so the same
// identity always yields the same filename component.
func deriveID(email, subject string) (string, error) {
	raw := email
	if raw == "" {
		raw = subject
	}
	id := elnpath.ScrubComponent(raw)
	if id == "" {
		return "", eln.ErrUnauthenticated.Wrap(Error.New("token carries no usable identity claim"))
	}
	return id, nil
}
