// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package storage defines a uniform object-store contract served by a cloud
// blob store and a local filesystem with identical semantics.
//
// A Store instance is rooted at exactly one tenant's physical location
// (bucket plus prefix, or a filesystem directory); keys are logical paths
// relative to that root, so two tenants can never alias the same physical
// object.
package storage

import (
	"context"
	"io"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default storage error class.
var Error = errs.Class("storage")

// ErrInvalidKey is returned when a logical key could escape the store root.
var ErrInvalidKey = errs.Class("invalid key")

// PutOptions control a Put operation.
type PutOptions struct {
	// ContentType is stored alongside the object where the backend
	// supports it.
	ContentType string
	// IfNotExists makes the write conditional: the put fails with
	// eln.ErrConflict when the key already exists. Submission bodies are
	// written this way; draft bodies are unconditional overwrites.
	IfNotExists bool
	// Size is the expected payload size, -1 when unknown. Backends use it
	// as a hint only.
	Size int64
}

// Store is the uniform object-store interface.
//
// All operations classify failures into the eln taxonomy: eln.ErrNotFound,
// eln.ErrConflict and eln.ErrIO. List returns full keys in lexicographic
// order; callers needing chronological order sort on the timestamp embedded
// in filenames.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error

	// Move relocates src to dst atomically within the backend. When dst
	// already exists the move succeeds only if dst holds the same bytes
	// as src (which makes retried moves idempotent); otherwise it fails
	// with eln.ErrConflict.
	Move(ctx context.Context, src, dst string) error
}

// ValidateKey rejects keys that are empty, absolute, contain parent
// references, or use backslashes. Every backend calls this before touching
// the underlying storage.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey.New("empty key")
	case strings.HasPrefix(key, "/"):
		return ErrInvalidKey.New("absolute key %q", key)
	case strings.Contains(key, "\\"):
		return ErrInvalidKey.New("backslash in key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return ErrInvalidKey.New("parent reference in key %q", key)
		}
		if part == "" {
			return ErrInvalidKey.New("empty segment in key %q", key)
		}
	}
	return nil
}

// ValidatePrefix is ValidateKey for listing prefixes, which may be empty or
// end in a separator.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return ValidateKey(strings.TrimSuffix(prefix, "/"))
}
