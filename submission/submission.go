// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package submission implements the immutable submit protocol: a
// conditional-create of the submission body followed by idempotent promotion
// of staged attachments. Bodies are never rewritten or deleted once created.
package submission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default submission error class.
var Error = errs.Class("submission")

var mon = monkit.Package()

// Submission is the immutable body persisted at submit time. The descriptor
// snapshots freeze the schema as it stood, so a later SOP revision never
// changes how an existing record reads.
type Submission struct {
	ELNUUID     string    `json:"eln_uuid"`
	Tenant      string    `json:"tenant"`
	SOPID       string    `json:"sop_id"`
	SOPVersion  string    `json:"sop_version"`
	Filename    string    `json:"filename"`
	SubmitterID string    `json:"submitter_id"`
	Submitter   string    `json:"submitter_email"`
	Timestamp   time.Time `json:"timestamp"`

	FormData          map[string]any `json:"form_data"`
	FilenameVariables []string       `json:"filename_variables"`

	FieldDefinitionsSnapshot []FieldSnapshot `json:"field_definitions_snapshot"`
	SOPMetadataSnapshot      map[string]any  `json:"sop_metadata_snapshot"`
	Provenance               Provenance      `json:"provenance"`

	Attachments []Attachment `json:"attachments"`
	ContentHash string       `json:"content_hash"`
}

// Provenance records where a submission came from.
type Provenance struct {
	SourceDraftID  string    `json:"source_draft_id,omitempty"`
	SessionID      string    `json:"session_id"`
	SubmissionTime time.Time `json:"submission_time"`
	Actor          string    `json:"actor"`
}

// FieldSnapshot is one schema field frozen at submit time.
type FieldSnapshot struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Required bool   `json:"required"`
}

// Attachment records one promoted file. StoredName is identical to the
// staged filename so the audit trail survives promotion.
type Attachment struct {
	TempID       string `json:"temp_id"`
	FieldID      string `json:"field_id"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	SizeBytes    int64  `json:"size_bytes"`
	StoredName   string `json:"stored_name"`
}

// Result reports a committed submission. Pending lists temp ids whose moves
// have not landed yet; they converge via the retrier or an explicit attach.
type Result struct {
	ELNUUID  string   `json:"eln_uuid"`
	Filename string   `json:"filename"`
	Attached []string `json:"attached"`
	Pending  []string `json:"pending,omitempty"`
}

// ContentHash returns the hex SHA-256 of the canonical JSON encoding of
// formData. encoding/json writes map keys in sorted order, which makes the
// encoding canonical without extra machinery.
func ContentHash(formData map[string]any) (string, error) {
	data, err := json.Marshal(formData)
	if err != nil {
		return "", Error.Wrap(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
