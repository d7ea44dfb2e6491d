// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package auth

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/tenantconfig"
)

var mon = monkit.Package()

// MockValidator serves a static bearer→user table from tenant config. It is
// the development and test provider; it performs the same identity
// normalization as the managed provider.
type MockValidator struct {
	users map[string]tenantconfig.MockUser
}

var _ Validator = (*MockValidator)(nil)

// NewMockValidator creates a validator over the configured static users.
func NewMockValidator(users []tenantconfig.MockUser) *MockValidator {
	table := make(map[string]tenantconfig.MockUser, len(users))
	for _, user := range users {
		table[user.Token] = user
	}
	return &MockValidator{users: table}
}

// Validate looks the bearer up in the static table.
func (validator *MockValidator) Validate(ctx context.Context, bearer string) (_ *User, err error) {
	defer mon.Task()(&ctx)(&err)

	entry, ok := validator.users[bearer]
	if !ok {
		return nil, eln.ErrUnauthenticated.Wrap(Error.New("unknown bearer token"))
	}
	id, err := deriveID(entry.Email, entry.ID)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:     id,
		Email:  entry.Email,
		Groups: append([]string(nil), entry.Groups...),
	}, nil
}
