// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package elnpath

import "path"

// Logical storage layout, rooted at a tenant's physical prefix:
//
//	forms/sops/{sop_id}.(yaml|json)
//	drafts/{sop_id}/{draft-filename}.json
//	drafts/{sop_id}/attachments/{staged-filename}
//	submissions/{sop_id}/{submission-filename}.json
//	submissions/{sop_id}/attachments/{staged-filename}

// SOPKey returns the key of a SOP descriptor document.
func SOPKey(sopID, ext string) string {
	return path.Join("forms", "sops", sopID+"."+ext)
}

// SOPPrefix returns the prefix holding all SOP descriptors.
func SOPPrefix() string { return "forms/sops/" }

// DraftPrefix returns the prefix holding draft bodies for a SOP.
func DraftPrefix(sopID string) string {
	return path.Join("drafts", sopID) + "/"
}

// DraftKey returns the key of a draft body.
func DraftKey(sopID, filename string) string {
	return path.Join("drafts", sopID, filename)
}

// DraftAttachmentsPrefix returns the staging area prefix for a SOP.
func DraftAttachmentsPrefix(sopID string) string {
	return path.Join("drafts", sopID, "attachments") + "/"
}

// DraftAttachmentKey returns the key of a staged upload.
func DraftAttachmentKey(sopID, filename string) string {
	return path.Join("drafts", sopID, "attachments", filename)
}

// SubmissionPrefix returns the prefix holding submission bodies for a SOP.
func SubmissionPrefix(sopID string) string {
	return path.Join("submissions", sopID) + "/"
}

// SubmissionKey returns the key of a submission body.
func SubmissionKey(sopID, filename string) string {
	return path.Join("submissions", sopID, filename)
}

// SubmissionAttachmentsPrefix returns the attachments prefix of a SOP's
// submissions area.
func SubmissionAttachmentsPrefix(sopID string) string {
	return path.Join("submissions", sopID, "attachments") + "/"
}

// SubmissionAttachmentKey returns the key of a committed attachment. The
// filename is preserved exactly from staging to retain audit linkage.
func SubmissionAttachmentKey(sopID, filename string) string {
	return path.Join("submissions", sopID, "attachments", filename)
}
