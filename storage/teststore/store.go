// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory storage.Store with fault
// injection for tests.
package teststore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/errs"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/storage"
)

// Error is the default teststore error class.
var Error = errs.Class("teststore")

// Op names a store operation for fault injection.
type Op string

// Store operations.
const (
	OpPut    Op = "put"
	OpGet    Op = "get"
	OpList   Op = "list"
	OpDelete Op = "delete"
	OpMove   Op = "move"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory blob store.
//
// SetFault installs a hook consulted before every operation; returning a
// non-nil error makes the operation fail with it. Use it to simulate
// transient backend failures.
type Store struct {
	mu    sync.Mutex
	data  map[string][]byte
	fault func(op Op, key string) error

	// CallCount tracks operations by name, for assertions on storage
	// being untouched.
	CallCount map[Op]int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:      map[string][]byte{},
		CallCount: map[Op]int{},
	}
}

// SetFault installs the fault hook; nil clears it.
func (store *Store) SetFault(fn func(op Op, key string) error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.fault = fn
}

func (store *Store) check(op Op, key string) error {
	store.CallCount[op]++
	if store.fault != nil {
		return store.fault(op, key)
	}
	return nil
}

// Put stores the contents of r under key.
func (store *Store) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) error {
	if err := storage.ValidateKey(key); err != nil {
		return eln.ErrInvalid.Wrap(err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.check(OpPut, key); err != nil {
		return err
	}
	if opts.IfNotExists {
		if _, exists := store.data[key]; exists {
			return eln.ErrConflict.Wrap(Error.New("key %q already exists", key))
		}
	}
	store.data[key] = data
	return nil
}

// Get returns a reader over the value at key.
func (store *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.check(OpGet, key); err != nil {
		return nil, err
	}
	data, exists := store.data[key]
	if !exists {
		return nil, eln.ErrNotFound.Wrap(Error.New("key %q", key))
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

// List returns keys under prefix in lexicographic order.
func (store *Store) List(ctx context.Context, prefix string) ([]string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.check(OpList, prefix); err != nil {
		return nil, err
	}
	var keys []string
	for key := range store.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (store *Store) Delete(ctx context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.check(OpDelete, key); err != nil {
		return err
	}
	if _, exists := store.data[key]; !exists {
		return eln.ErrNotFound.Wrap(Error.New("key %q", key))
	}
	delete(store.data, key)
	return nil
}

// Move relocates src to dst with the same idempotent-converge semantics as
// the real backends.
func (store *Store) Move(ctx context.Context, src, dst string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.check(OpMove, src); err != nil {
		return err
	}
	srcData, srcExists := store.data[src]
	dstData, dstExists := store.data[dst]
	if !srcExists {
		if dstExists {
			return nil
		}
		return eln.ErrNotFound.Wrap(Error.New("key %q", src))
	}
	if dstExists {
		if !bytes.Equal(srcData, dstData) {
			return eln.ErrConflict.Wrap(Error.New("key %q already exists with different contents", dst))
		}
		delete(store.data, src)
		return nil
	}
	store.data[dst] = srcData
	delete(store.data, src)
	return nil
}

// Len returns the number of stored objects.
func (store *Store) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.data)
}

// Contents returns a copy of the value at key, for assertions.
func (store *Store) Contents(key string) ([]byte, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	data, exists := store.data[key]
	return append([]byte(nil), data...), exists
}
