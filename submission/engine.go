// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/draft"
	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/sop"
	"github.com/arclab/eln/storage"
)

// Engine runs the submit protocol for one tenant.
type Engine struct {
	log     *zap.Logger
	backing storage.Store
	tenant  string
	retrier *Retrier

	newUUID func() string
	nowFn   func() time.Time
}

// NewEngine creates an engine over backing. retrier may be nil; pending
// moves are then left to explicit attach calls.
func NewEngine(log *zap.Logger, backing storage.Store, tenant string, retrier *Retrier) *Engine {
	return &Engine{
		log:     log,
		backing: backing,
		tenant:  tenant,
		retrier: retrier,
		newUUID: func() string { return "e_" + uuid.NewString() },
		nowFn:   time.Now,
	}
}

// SetNewUUID overrides uuid minting, for tests.
func (engine *Engine) SetNewUUID(fn func() string) { engine.newUUID = fn }

// SetNow overrides the clock, for tests.
func (engine *Engine) SetNow(fn func() time.Time) { engine.nowFn = fn }

// SubmitRequest carries one submission. SourceDraftID and SessionID feed the
// provenance block; both may be empty for direct submits.
type SubmitRequest struct {
	FormData      map[string]any
	Attachments   []draft.StagedFile
	SourceDraftID string
	SessionID     string
}

// Submit commits a new submission. The uuid and timestamp are frozen before
// any write; the body lands via conditional-create, so a filename collision
// aborts the whole operation with Conflict and no attachment has moved yet.
// After the body commits, attachment moves are best effort: failures surface
// as a PartialFailure advisory on a still-valid Result and are handed to the
// retrier.
func (engine *Engine) Submit(ctx context.Context, user *auth.User, descriptor *sop.Descriptor, req SubmitRequest) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if !auth.Check(user, "submit:"+descriptor.SOPID) {
		return nil, eln.ErrForbidden.Wrap(Error.New("submit:%s not granted", descriptor.SOPID))
	}

	// normalized up front so the body, the result and the filename all carry
	// the identical token
	elnUUID := elnpath.ScrubComponent(engine.newUUID())
	now := engine.nowFn().UTC()
	variables := descriptor.FilenameVariables(req.FormData)

	filename, err := elnpath.EncodeSubmission(now, user.ID, variables, elnUUID, "json")
	if err != nil {
		return nil, err
	}

	hash, err := ContentHash(req.FormData)
	if err != nil {
		return nil, eln.ErrInvalid.Wrap(err)
	}

	body := &Submission{
		ELNUUID:           elnUUID,
		Tenant:            engine.tenant,
		SOPID:             descriptor.SOPID,
		SOPVersion:        descriptor.Version,
		Filename:          filename,
		SubmitterID:       user.ID,
		Submitter:         user.Email,
		Timestamp:         now,
		FormData:          req.FormData,
		FilenameVariables: variables,

		FieldDefinitionsSnapshot: snapshotFields(descriptor),
		SOPMetadataSnapshot:      descriptor.Metadata,
		Provenance: Provenance{
			SourceDraftID:  req.SourceDraftID,
			SessionID:      req.SessionID,
			SubmissionTime: now,
			Actor:          user.ID,
		},

		ContentHash: hash,
	}
	for _, staged := range req.Attachments {
		body.Attachments = append(body.Attachments, Attachment{
			TempID:       staged.TempID,
			FieldID:      staged.FieldID,
			OriginalName: staged.OriginalName,
			MimeType:     staged.MimeType,
			SizeBytes:    staged.SizeBytes,
			StoredName:   staged.StoredName,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
	}
	err = engine.backing.Put(ctx, elnpath.SubmissionKey(descriptor.SOPID, filename), bytes.NewReader(data), storage.PutOptions{
		ContentType: "application/json",
		IfNotExists: true,
		Size:        int64(len(data)),
	})
	if err != nil {
		return nil, err
	}

	result := &Result{ELNUUID: elnUUID, Filename: filename}
	for _, attachment := range body.Attachments {
		src := elnpath.DraftAttachmentKey(descriptor.SOPID, attachment.StoredName)
		dst := elnpath.SubmissionAttachmentKey(descriptor.SOPID, attachment.StoredName)
		if err := engine.backing.Move(ctx, src, dst); err != nil {
			engine.log.Warn("attachment move pending after commit",
				zap.String("eln_uuid", elnUUID),
				zap.String("temp_id", attachment.TempID),
				zap.Error(err))
			result.Pending = append(result.Pending, attachment.TempID)
			if engine.retrier != nil {
				engine.retrier.Enqueue(src, dst)
			}
			continue
		}
		result.Attached = append(result.Attached, attachment.TempID)
	}

	engine.log.Info("submission committed",
		zap.String("sop_id", descriptor.SOPID),
		zap.String("eln_uuid", elnUUID),
		zap.String("filename", filename),
		zap.Int("attached", len(result.Attached)),
		zap.Int("pending", len(result.Pending)))

	if len(result.Pending) > 0 {
		return result, eln.ErrPartialFailure.Wrap(Error.New(
			"%d of %d attachments pending", len(result.Pending), len(body.Attachments)))
	}
	return result, nil
}

// Get fetches a submission body by eln uuid.
func (engine *Engine) Get(ctx context.Context, user *auth.User, sopID, elnUUID string) (_ *Submission, err error) {
	defer mon.Task()(&ctx)(&err)

	if !auth.Check(user, "view:"+sopID) && !auth.Check(user, "submit:"+sopID) {
		return nil, eln.ErrForbidden.Wrap(Error.New("view:%s not granted", sopID))
	}
	body, _, err := engine.find(ctx, sopID, elnUUID)
	return body, err
}

// Attach re-runs the promotion moves for a committed submission. Moves are
// idempotent: an attachment that already landed counts as attached, so
// repeated calls converge with no duplicates.
func (engine *Engine) Attach(ctx context.Context, user *auth.User, sopID, elnUUID string) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if !auth.Check(user, "submit:"+sopID) {
		return nil, eln.ErrForbidden.Wrap(Error.New("submit:%s not granted", sopID))
	}

	body, filename, err := engine.find(ctx, sopID, elnUUID)
	if err != nil {
		return nil, err
	}

	result := &Result{ELNUUID: elnUUID, Filename: filename}
	for _, attachment := range body.Attachments {
		src := elnpath.DraftAttachmentKey(sopID, attachment.StoredName)
		dst := elnpath.SubmissionAttachmentKey(sopID, attachment.StoredName)
		if err := engine.backing.Move(ctx, src, dst); err != nil {
			result.Pending = append(result.Pending, attachment.TempID)
			continue
		}
		result.Attached = append(result.Attached, attachment.TempID)
	}
	if len(result.Pending) > 0 {
		return result, eln.ErrPartialFailure.Wrap(Error.New(
			"%d of %d attachments pending", len(result.Pending), len(body.Attachments)))
	}
	return result, nil
}

// find locates a submission body by eln uuid within a SOP's submissions area.
func (engine *Engine) find(ctx context.Context, sopID, elnUUID string) (*Submission, string, error) {
	if sopID == "" || elnUUID == "" {
		return nil, "", eln.ErrInvalid.Wrap(Error.New("sop id and eln uuid are required"))
	}
	keys, err := engine.backing.List(ctx, elnpath.SubmissionPrefix(sopID))
	if err != nil {
		return nil, "", err
	}
	for _, key := range keys {
		if strings.Contains(key, "/attachments/") {
			continue
		}
		name := path.Base(key)
		decoded, err := elnpath.DecodeSubmission(name)
		if err != nil || decoded.ELNUUID != elnpath.ScrubComponent(elnUUID) {
			continue
		}
		reader, err := engine.backing.Get(ctx, key)
		if err != nil {
			return nil, "", err
		}
		body := &Submission{}
		err = json.NewDecoder(reader).Decode(body)
		_ = reader.Close()
		if err != nil {
			return nil, "", eln.ErrIO.Wrap(Error.Wrap(err))
		}
		return body, name, nil
	}
	return nil, "", eln.ErrNotFound.Wrap(Error.New("submission %q", elnUUID))
}

func snapshotFields(descriptor *sop.Descriptor) []FieldSnapshot {
	fields := descriptor.Fields()
	snapshot := make([]FieldSnapshot, 0, len(fields))
	for _, field := range fields {
		snapshot = append(snapshot, FieldSnapshot{
			ID:       field.ID,
			Type:     field.Type,
			Title:    field.Title,
			Required: field.Required,
		})
	}
	return snapshot
}
