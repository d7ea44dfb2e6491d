// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package tenantconfig resolves per-tenant configuration records.
//
// A resolved record is the deep merge of the base environment record with a
// tenant override record: scalars override, mappings recurse, sequences
// replace. Infrastructure identifiers are read from the process environment
// first, so deployment-time values always win over repository-checked
// defaults.
package tenantconfig

import (
	"time"

	"github.com/zeebo/errs"

	"github.com/arclab/eln/private/memory"
)

// Error is the default tenantconfig error class.
var Error = errs.Class("tenantconfig")

// Config is the resolved configuration record for one tenant.
type Config struct {
	Tenant      string `mapstructure:"-"`
	Environment string `mapstructure:"-"`

	Storage     StorageConfig       `mapstructure:"storage"`
	Auth        AuthConfig          `mapstructure:"auth"`
	Files       FilePolicy          `mapstructure:"files"`
	Drafts      DraftPolicy         `mapstructure:"drafts"`
	CORS        CORSConfig          `mapstructure:"cors"`
	Permissions map[string][]string `mapstructure:"permissions"`
}

// StorageConfig locates a tenant's physical storage.
type StorageConfig struct {
	// Backend is "filesystem" or "s3".
	Backend string `mapstructure:"backend"`
	// Root is the bucket name or the filesystem directory.
	Root string `mapstructure:"root"`
	// Prefix is an optional key prefix inside the bucket.
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// AuthConfig holds the identity-provider coordinates.
type AuthConfig struct {
	// Provider is "jwks" or "mock".
	Provider    string     `mapstructure:"provider"`
	IssuerURL   string     `mapstructure:"issuer_url"`
	JWKSURL     string     `mapstructure:"jwks_url"`
	ClientID    string     `mapstructure:"client_id"`
	PoolID      string     `mapstructure:"pool_id"`
	Region      string     `mapstructure:"region"`
	GroupsClaim string     `mapstructure:"groups_claim"`
	AdminGroups []string   `mapstructure:"admin_groups"`
	MockUsers   []MockUser `mapstructure:"mock_users"`
}

// MockUser is a static identity served by the mock provider.
type MockUser struct {
	Token  string   `mapstructure:"token"`
	ID     string   `mapstructure:"id"`
	Email  string   `mapstructure:"email"`
	Groups []string `mapstructure:"groups"`
}

// FilePolicy bounds uploads.
type FilePolicy struct {
	MaxFileSize         memory.Size `mapstructure:"max_file_size"`
	MaxRequestSize      memory.Size `mapstructure:"max_request_size"`
	AllowedExtensions   []string    `mapstructure:"allowed_extensions"`
	ForbiddenExtensions []string    `mapstructure:"forbidden_extensions"`
}

// DraftPolicy bounds draft retention.
type DraftPolicy struct {
	RetentionDays int           `mapstructure:"retention_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Validate fails eagerly on missing required keys so that a broken tenant is
// cached as a negative result instead of failing per operation.
func (config *Config) Validate() error {
	switch config.Storage.Backend {
	case "filesystem", "s3":
	case "":
		return Error.New("tenant %q: storage.backend is required", config.Tenant)
	default:
		return Error.New("tenant %q: unknown storage.backend %q", config.Tenant, config.Storage.Backend)
	}
	if config.Storage.Root == "" {
		return Error.New("tenant %q: storage.root is required", config.Tenant)
	}

	switch config.Auth.Provider {
	case "jwks":
		if config.Auth.IssuerURL == "" || config.Auth.JWKSURL == "" || config.Auth.ClientID == "" {
			return Error.New("tenant %q: jwks auth requires issuer_url, jwks_url and client_id", config.Tenant)
		}
	case "mock":
	case "":
		return Error.New("tenant %q: auth.provider is required", config.Tenant)
	default:
		return Error.New("tenant %q: unknown auth.provider %q", config.Tenant, config.Auth.Provider)
	}

	if config.Drafts.RetentionDays <= 0 {
		return Error.New("tenant %q: drafts.retention_days must be positive", config.Tenant)
	}
	return nil
}

// Retention returns the draft retention window as a duration.
func (config *Config) Retention() time.Duration {
	return time.Duration(config.Drafts.RetentionDays) * 24 * time.Hour
}

// PermissionsFor returns the union of the permission sets mapped from the
// given groups, deduplicated, order preserved.
func (config *Config) PermissionsFor(groups []string) []string {
	seen := map[string]bool{}
	var permissions []string
	for _, group := range groups {
		for _, permission := range config.Permissions[group] {
			if !seen[permission] {
				seen[permission] = true
				permissions = append(permissions, permission)
			}
		}
	}
	return permissions
}
