// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/storage"
)

// Store persists drafts in the tenant's drafts area.
type Store struct {
	log     *zap.Logger
	backing storage.Store
	tenant  string

	nowFn func() time.Time
}

// NewStore creates a draft store for one tenant.
func NewStore(log *zap.Logger, backing storage.Store, tenant string) *Store {
	return &Store{
		log:     log,
		backing: backing,
		tenant:  tenant,
		nowFn:   time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (store *Store) SetNow(nowFn func() time.Time) { store.nowFn = nowFn }

// SaveRequest carries one draft save.
type SaveRequest struct {
	SOPID             string
	SessionID         string
	DraftID           string // empty mints a new draft
	Title             string
	Completion        int
	FormData          map[string]any
	FilenameVariables []string
	FieldIDs          []string
}

// Save creates or overwrites a draft. Saves to an existing draft id check
// owner match first; concurrent saves by the owner are last-writer-wins.
func (store *Store) Save(ctx context.Context, user *auth.User, req SaveRequest) (_ *Draft, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(req.FilenameVariables) != len(req.FieldIDs) {
		return nil, eln.ErrInvalid.Wrap(Error.New(
			"filename_variables and field_ids lengths differ: %d != %d",
			len(req.FilenameVariables), len(req.FieldIDs)))
	}
	if req.Completion < 0 || req.Completion > 100 {
		return nil, eln.ErrInvalid.Wrap(Error.New("completion_percentage out of range"))
	}

	now := store.nowFn().UTC()
	current := &Draft{
		DraftID:           req.DraftID,
		Tenant:            store.tenant,
		SOPID:             req.SOPID,
		SessionID:         req.SessionID,
		OwnerID:           user.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Completion:        req.Completion,
		Title:             req.Title,
		FormData:          req.FormData,
		FilenameVariables: req.FilenameVariables,
		FieldIDs:          req.FieldIDs,
	}

	var previousKey string
	if req.DraftID == "" {
		current.DraftID = NewID()
	} else {
		existing, existingKey, err := store.find(ctx, req.SOPID, req.DraftID)
		if err != nil {
			return nil, err
		}
		if existing.OwnerID != user.ID {
			return nil, eln.ErrForbidden.Wrap(Error.New("draft %q has a different owner", req.DraftID))
		}
		current.CreatedAt = existing.CreatedAt
		current.SessionID = firstNonEmpty(req.SessionID, existing.SessionID)
		current.StagedFiles = existing.StagedFiles
		previousKey = existingKey
	}

	// the creation timestamp keys the filename, so re-saves land on the
	// same object unless the filename variables changed
	filename, err := elnpath.EncodeDraft(current.CreatedAt, current.OwnerID, current.FilenameVariables, current.DraftID, "json")
	if err != nil {
		return nil, err
	}
	key := elnpath.DraftKey(req.SOPID, filename)

	data, err := marshalSized(current)
	if err != nil {
		return nil, err
	}

	err = store.backing.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType: "application/json",
		Size:        int64(len(data)),
	})
	if err != nil {
		return nil, err
	}

	if previousKey != "" && previousKey != key {
		if err := store.backing.Delete(ctx, previousKey); err != nil && !eln.ErrNotFound.Has(err) {
			store.log.Warn("stale draft body left behind after rename",
				zap.String("key", previousKey), zap.Error(err))
		}
	}
	return current, nil
}

// Get fetches a draft; non-owners get Forbidden unless admin.
func (store *Store) Get(ctx context.Context, user *auth.User, sopID, draftID string) (_ *Draft, err error) {
	defer mon.Task()(&ctx)(&err)

	found, _, err := store.find(ctx, sopID, draftID)
	if err != nil {
		return nil, err
	}
	if found.OwnerID != user.ID && !user.IsAdmin {
		return nil, eln.ErrForbidden.Wrap(Error.New("draft %q has a different owner", draftID))
	}
	return found, nil
}

// List returns draft metadata owned by the caller (all-in-tenant for
// admin), ordered by updated_at descending, ties by draft_id ascending.
// Ownership filtering runs off the filename; only matching bodies are read.
func (store *Store) List(ctx context.Context, user *auth.User, sopID string) (_ []Metadata, err error) {
	defer mon.Task()(&ctx)(&err)

	var prefixes []string
	if sopID != "" {
		prefixes = []string{elnpath.DraftPrefix(sopID)}
	} else {
		prefixes, err = store.sopPrefixes(ctx)
		if err != nil {
			return nil, err
		}
	}

	var drafts []Metadata
	for _, prefix := range prefixes {
		keys, err := store.backing.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if strings.Contains(key, "/attachments/") {
				continue
			}
			decoded, err := elnpath.DecodeDraft(path.Base(key))
			if err != nil {
				continue
			}
			if decoded.Owner != user.ID && !user.IsAdmin {
				continue
			}
			body, err := store.read(ctx, key)
			if err != nil {
				store.log.Warn("unreadable draft body skipped", zap.String("key", key), zap.Error(err))
				continue
			}
			drafts = append(drafts, Metadata{
				DraftID:    body.DraftID,
				SOPID:      body.SOPID,
				OwnerID:    body.OwnerID,
				Title:      body.Title,
				Completion: body.Completion,
				CreatedAt:  body.CreatedAt,
				UpdatedAt:  body.UpdatedAt,
				SizeBytes:  body.SizeBytes,
				Staged:     len(body.StagedFiles),
			})
		}
	}

	sort.Slice(drafts, func(i, j int) bool {
		if !drafts[i].UpdatedAt.Equal(drafts[j].UpdatedAt) {
			return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt)
		}
		return drafts[i].DraftID < drafts[j].DraftID
	})
	return drafts, nil
}

// Delete removes the draft body and every staged attachment recorded in it.
// Submissions already holding the same temp ids are unaffected.
func (store *Store) Delete(ctx context.Context, user *auth.User, sopID, draftID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	found, key, err := store.find(ctx, sopID, draftID)
	if err != nil {
		return err
	}
	if found.OwnerID != user.ID && !user.IsAdmin {
		return eln.ErrForbidden.Wrap(Error.New("draft %q has a different owner", draftID))
	}

	for _, staged := range found.StagedFiles {
		attachmentKey := elnpath.DraftAttachmentKey(found.SOPID, staged.StoredName)
		if err := store.backing.Delete(ctx, attachmentKey); err != nil && !eln.ErrNotFound.Has(err) {
			return err
		}
	}
	return store.backing.Delete(ctx, key)
}

// Update rewrites a draft body in place, keyed by its current filename.
// The file stager uses it to record staged handles.
func (store *Store) Update(ctx context.Context, found *Draft) (err error) {
	defer mon.Task()(&ctx)(&err)

	filename, err := elnpath.EncodeDraft(found.CreatedAt, found.OwnerID, found.FilenameVariables, found.DraftID, "json")
	if err != nil {
		return err
	}
	found.UpdatedAt = store.nowFn().UTC()
	data, err := marshalSized(found)
	if err != nil {
		return err
	}
	return store.backing.Put(ctx, elnpath.DraftKey(found.SOPID, filename), bytes.NewReader(data), storage.PutOptions{
		ContentType: "application/json",
		Size:        int64(len(data)),
	})
}

// find locates a draft body by id. With a sop id the scan is confined to that
// SOP's drafts area; without one every SOP holding drafts is scanned, so
// lookups work from the draft id alone.
func (store *Store) find(ctx context.Context, sopID, draftID string) (*Draft, string, error) {
	if draftID == "" {
		return nil, "", eln.ErrInvalid.Wrap(Error.New("draft id is required"))
	}

	var prefixes []string
	if sopID != "" {
		prefixes = []string{elnpath.DraftPrefix(sopID)}
	} else {
		var err error
		prefixes, err = store.sopPrefixes(ctx)
		if err != nil {
			return nil, "", err
		}
	}

	for _, prefix := range prefixes {
		keys, err := store.backing.List(ctx, prefix)
		if err != nil {
			return nil, "", err
		}
		for _, key := range keys {
			if strings.Contains(key, "/attachments/") {
				continue
			}
			decoded, err := elnpath.DecodeDraft(path.Base(key))
			if err != nil || decoded.DraftID != draftID {
				continue
			}
			body, err := store.read(ctx, key)
			if err != nil {
				return nil, "", err
			}
			return body, key, nil
		}
	}
	return nil, "", eln.ErrNotFound.Wrap(Error.New("draft %q", draftID))
}

func (store *Store) read(ctx context.Context, key string) (*Draft, error) {
	reader, err := store.backing.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	body := &Draft{}
	if err := json.NewDecoder(reader).Decode(body); err != nil {
		return nil, eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return body, nil
}

// sopPrefixes discovers the SOPs that currently hold drafts.
func (store *Store) sopPrefixes(ctx context.Context) ([]string, error) {
	keys, err := store.backing.List(ctx, "drafts/")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var prefixes []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, "drafts/")
		sopID, _, ok := strings.Cut(rest, "/")
		if !ok || seen[sopID] {
			continue
		}
		seen[sopID] = true
		prefixes = append(prefixes, elnpath.DraftPrefix(sopID))
	}
	return prefixes, nil
}

// marshalSized encodes a draft with size_bytes equal to the encoded length.
// The field is part of the body it measures, so the encoding repeats until
// the recorded value and the length agree; the digit width stabilizes after
// at most a couple of rounds.
func marshalSized(current *Draft) ([]byte, error) {
	data, err := json.Marshal(current)
	if err != nil {
		return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
	}
	for int64(len(data)) != current.SizeBytes {
		current.SizeBytes = int64(len(data))
		if data, err = json.Marshal(current); err != nil {
			return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
		}
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
