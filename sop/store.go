// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package sop

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/storage"
)

var mon = monkit.Package()

// Store loads SOP descriptors from a tenant's forms area and caches the
// parsed result per (sop id, version). Raw documents are never traversed in
// hot paths; the submission engine receives the typed descriptor.
type Store struct {
	log     *zap.Logger
	backing storage.Store

	mu    sync.RWMutex
	cache map[string]*Descriptor
}

// NewStore creates a descriptor store over backing.
func NewStore(log *zap.Logger, backing storage.Store) *Store {
	return &Store{
		log:     log,
		backing: backing,
		cache:   map[string]*Descriptor{},
	}
}

// Get returns the descriptor for sopID, loading and caching it on first
// use.
func (store *Store) Get(ctx context.Context, sopID string) (_ *Descriptor, err error) {
	defer mon.Task()(&ctx)(&err)

	if elnpath.ScrubComponent(sopID) != sopID || sopID == "" {
		return nil, eln.ErrInvalid.Wrap(Error.New("invalid sop id %q", sopID))
	}

	store.mu.RLock()
	cached, ok := store.cache[sopID]
	store.mu.RUnlock()
	if ok {
		return cached, nil
	}

	descriptor, err := store.load(ctx, sopID)
	if err != nil {
		return nil, err
	}

	store.mu.Lock()
	store.cache[sopID] = descriptor
	store.mu.Unlock()
	return descriptor, nil
}

func (store *Store) load(ctx context.Context, sopID string) (*Descriptor, error) {
	for _, ext := range []string{"yaml", "yml", "json"} {
		reader, err := store.backing.Get(ctx, elnpath.SOPKey(sopID, ext))
		if err != nil {
			if eln.ErrNotFound.Has(err) {
				continue
			}
			return nil, err
		}
		data, err := io.ReadAll(reader)
		closeErr := reader.Close()
		if err != nil {
			return nil, eln.ErrIO.Wrap(Error.Wrap(err))
		}
		if closeErr != nil {
			return nil, eln.ErrIO.Wrap(Error.Wrap(closeErr))
		}

		descriptor, err := Parse(data, ext)
		if err != nil {
			return nil, err
		}
		if descriptor.SOPID != sopID {
			return nil, eln.ErrInvalid.Wrap(Error.New("descriptor %q declares sop_id %q", sopID, descriptor.SOPID))
		}
		return descriptor, nil
	}
	return nil, eln.ErrNotFound.Wrap(Error.New("sop %q", sopID))
}

// Metadata is the listing entry for one SOP.
type Metadata struct {
	SOPID   string         `json:"sop_id"`
	Version string         `json:"version"`
	Title   string         `json:"title"`
	Meta    map[string]any `json:"metadata,omitempty"`
}

// List aggregates metadata for every parseable SOP in the forms area.
// Documents that fail to parse are logged and skipped rather than breaking
// the listing.
func (store *Store) List(ctx context.Context) (_ []Metadata, err error) {
	defer mon.Task()(&ctx)(&err)

	keys, err := store.backing.List(ctx, elnpath.SOPPrefix())
	if err != nil {
		return nil, err
	}

	var entries []Metadata
	seen := map[string]bool{}
	for _, key := range keys {
		base := path.Base(key)
		dot := strings.LastIndex(base, ".")
		if dot <= 0 {
			continue
		}
		sopID := base[:dot]
		if seen[sopID] {
			continue
		}
		seen[sopID] = true

		descriptor, err := store.Get(ctx, sopID)
		if err != nil {
			store.log.Warn("skipping unparseable sop descriptor",
				zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, Metadata{
			SOPID:   descriptor.SOPID,
			Version: descriptor.Version,
			Title:   descriptor.Title,
			Meta:    descriptor.Metadata,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SOPID < entries[j].SOPID })
	return entries, nil
}
