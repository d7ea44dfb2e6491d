// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package draft implements CRUD on mutable drafts and their TTL cleanup.
//
// A draft body is a single JSON object persisted whole on every save; no
// diffs, no append log, so recovery is a plain read. The draft filename
// embeds the owner id, which lets ownership filtering run off a prefix scan
// without reading bodies.
package draft

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default draft error class.
var Error = errs.Class("draft")

var mon = monkit.Package()

// Draft is a mutable in-progress ELN owned by one user.
type Draft struct {
	DraftID   string    `json:"draft_id"`
	Tenant    string    `json:"tenant"`
	SOPID     string    `json:"sop_id"`
	SessionID string    `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Completion int    `json:"completion_percentage"`
	Title      string `json:"title"`

	FormData          map[string]any `json:"form_data"`
	FilenameVariables []string       `json:"filename_variables"`
	FieldIDs          []string       `json:"field_ids"`

	StagedFiles []StagedFile `json:"staged_files"`
	SizeBytes   int64        `json:"size_bytes"`
}

// StagedFile is a staged upload handle recorded inside its owning draft.
type StagedFile struct {
	TempID       string    `json:"temp_id"`
	FieldID      string    `json:"field_id"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
	// StoredName is the staged filename under the draft attachments area;
	// it is preserved exactly on promotion to retain audit linkage.
	StoredName string `json:"stored_name"`
}

// Metadata is the listing projection of a draft, without form data.
type Metadata struct {
	DraftID    string    `json:"draft_id"`
	SOPID      string    `json:"sop_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	Completion int       `json:"completion_percentage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Staged     int       `json:"staged_files"`
}

// NewID mints an opaque, delimiter-free draft id.
func NewID() string {
	raw := uuid.New()
	return "d" + hex.EncodeToString(raw[:])[:10]
}
