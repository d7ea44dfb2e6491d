// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package filestage stages uploads into a draft's attachments area before
// submission promotes them into the immutable record.
package filestage

import (
	"context"
	"crypto/rand"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/draft"
	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/storage"
	"github.com/arclab/eln/tenantconfig"
)

// Error is the default filestage error class.
var Error = errs.Class("filestage")

var mon = monkit.Package()

// tempIDAlphabet deliberately excludes the filename delimiter and any byte
// the component scrubber would rewrite.
const tempIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const tempIDLength = 8

// Stager streams uploads to the draft attachments area and records the
// resulting handles on the owning draft.
type Stager struct {
	log     *zap.Logger
	backing storage.Store
	drafts  *draft.Store
	policy  tenantconfig.FilePolicy

	nowFn func() time.Time
}

// NewStager creates a stager over backing, bounded by policy.
func NewStager(log *zap.Logger, backing storage.Store, drafts *draft.Store, policy tenantconfig.FilePolicy) *Stager {
	return &Stager{
		log:     log,
		backing: backing,
		drafts:  drafts,
		policy:  policy,
		nowFn:   time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (stager *Stager) SetNow(nowFn func() time.Time) { stager.nowFn = nowFn }

// UploadRequest carries one staged upload.
type UploadRequest struct {
	SOPID        string
	DraftID      string
	FieldID      string
	OriginalName string
	MimeType     string
	Body         io.Reader
}

// Upload validates and stages one file. The upload streams straight to the
// backend under a size-capped reader; on overflow the partial object is
// removed before returning TooLarge.
func (stager *Stager) Upload(ctx context.Context, user *auth.User, req UploadRequest) (_ *draft.StagedFile, err error) {
	defer mon.Task()(&ctx)(&err)

	if req.FieldID == "" || req.OriginalName == "" {
		return nil, eln.ErrInvalid.Wrap(Error.New("field id and filename are required"))
	}
	if err := stager.checkExtension(req.OriginalName); err != nil {
		return nil, err
	}

	owned, err := stager.drafts.Get(ctx, user, req.SOPID, req.DraftID)
	if err != nil {
		return nil, err
	}

	tempID, err := newTempID()
	if err != nil {
		return nil, err
	}
	storedName, err := elnpath.EncodeStaged(user.ID, req.FieldID, tempID, req.OriginalName)
	if err != nil {
		return nil, err
	}
	key := elnpath.DraftAttachmentKey(req.SOPID, storedName)

	limit := stager.policy.MaxFileSize.Int64()
	counter := &countingReader{r: io.LimitReader(req.Body, limit+1)}
	err = stager.backing.Put(ctx, key, counter, storage.PutOptions{
		ContentType: req.MimeType,
		Size:        -1,
	})
	if err != nil {
		return nil, err
	}
	if counter.n > limit {
		if err := stager.backing.Delete(ctx, key); err != nil && !eln.ErrNotFound.Has(err) {
			stager.log.Warn("oversize upload not removed", zap.String("key", key), zap.Error(err))
		}
		return nil, eln.ErrTooLarge.Wrap(Error.New("file exceeds %s", stager.policy.MaxFileSize))
	}

	staged := draft.StagedFile{
		TempID:       tempID,
		FieldID:      req.FieldID,
		OriginalName: req.OriginalName,
		MimeType:     req.MimeType,
		SizeBytes:    counter.n,
		UploadedAt:   stager.nowFn().UTC(),
		StoredName:   storedName,
	}
	owned.StagedFiles = append(owned.StagedFiles, staged)
	if err := stager.drafts.Update(ctx, owned); err != nil {
		if deleteErr := stager.backing.Delete(ctx, key); deleteErr != nil && !eln.ErrNotFound.Has(deleteErr) {
			stager.log.Warn("orphaned staged upload", zap.String("key", key), zap.Error(deleteErr))
		}
		return nil, err
	}

	stager.log.Info("file staged",
		zap.String("sop_id", req.SOPID),
		zap.String("draft_id", req.DraftID),
		zap.String("field_id", req.FieldID),
		zap.String("temp_id", tempID),
		zap.Int64("size", counter.n))
	return &staged, nil
}

// Delete removes one staged file by temp id and drops its handle from the
// draft. sopID may be empty; the draft lookup then scans across SOPs.
func (stager *Stager) Delete(ctx context.Context, user *auth.User, sopID, draftID, tempID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	owned, err := stager.drafts.Get(ctx, user, sopID, draftID)
	if err != nil {
		return err
	}

	index := -1
	for i, staged := range owned.StagedFiles {
		if staged.TempID == tempID {
			index = i
			break
		}
	}
	if index < 0 {
		return eln.ErrNotFound.Wrap(Error.New("staged file %q", tempID))
	}

	key := elnpath.DraftAttachmentKey(owned.SOPID, owned.StagedFiles[index].StoredName)
	if err := stager.backing.Delete(ctx, key); err != nil && !eln.ErrNotFound.Has(err) {
		return err
	}
	owned.StagedFiles = append(owned.StagedFiles[:index], owned.StagedFiles[index+1:]...)
	return stager.drafts.Update(ctx, owned)
}

// checkExtension applies the deny list first, then the allow list when one is
// configured. Matching is case-insensitive on the final extension.
func (stager *Stager) checkExtension(name string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, forbidden := range stager.policy.ForbiddenExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(forbidden, ".")) {
			return eln.ErrForbiddenType.Wrap(Error.New("extension %q is forbidden", ext))
		}
	}
	if len(stager.policy.AllowedExtensions) == 0 {
		return nil
	}
	for _, allowed := range stager.policy.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return nil
		}
	}
	return eln.ErrForbiddenType.Wrap(Error.New("extension %q is not allowed", ext))
}

func newTempID() (string, error) {
	raw := make([]byte, tempIDLength)
	if _, err := rand.Read(raw); err != nil {
		return "", Error.Wrap(err)
	}
	for i := range raw {
		raw[i] = tempIDAlphabet[int(raw[i])%len(tempIDAlphabet)]
	}
	return string(raw), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (counter *countingReader) Read(p []byte) (int, error) {
	n, err := counter.r.Read(p)
	counter.n += int64(n)
	return n, err
}
