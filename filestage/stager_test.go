// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package filestage_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/draft"
	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/filestage"
	"github.com/arclab/eln/private/testcontext"
	"github.com/arclab/eln/storage/teststore"
	"github.com/arclab/eln/tenantconfig"
)

var (
	alice = &auth.User{ID: "alice_acme_org", Email: "alice@acme.org"}
	bob   = &auth.User{ID: "bob_acme_org", Email: "bob@acme.org"}
)

func policy() tenantconfig.FilePolicy {
	return tenantconfig.FilePolicy{
		MaxFileSize:         16, // bytes, to keep fixtures small
		AllowedExtensions:   []string{"png", "pdf"},
		ForbiddenExtensions: []string{"exe"},
	}
}

func setup(t *testing.T, ctx *testcontext.Context) (*teststore.Store, *draft.Store, *filestage.Stager, *draft.Draft) {
	backing := teststore.New()
	drafts := draft.NewStore(zaptest.NewLogger(t), backing, "acme")
	stager := filestage.NewStager(zaptest.NewLogger(t), backing, drafts, policy())

	saved, err := drafts.Save(ctx, alice, draft.SaveRequest{
		SOPID:             "SOP42",
		Title:             "run",
		FormData:          map[string]any{},
		FilenameVariables: []string{},
		FieldIDs:          []string{},
	})
	require.NoError(t, err)
	return backing, drafts, stager, saved
}

func TestUploadAndDelete(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	backing, drafts, stager, saved := setup(t, ctx)

	staged, err := stager.Upload(ctx, alice, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      saved.DraftID,
		FieldID:      "gel_image",
		OriginalName: "scan v2.png",
		MimeType:     "image/png",
		Body:         bytes.NewReader([]byte("imagebytes")),
	})
	require.NoError(t, err)
	assert.Len(t, staged.TempID, 8)
	assert.NotContains(t, staged.TempID, elnpath.Delimiter)
	assert.Equal(t, int64(10), staged.SizeBytes)
	assert.Equal(t, "scan v2.png", staged.OriginalName)

	// stored name round-trips through the staged codec
	decoded, err := elnpath.DecodeStaged(staged.StoredName)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, decoded.Owner)
	assert.Equal(t, "gel_image", decoded.FieldID)
	assert.Equal(t, staged.TempID, decoded.TempID)

	data, exists := backing.Contents(elnpath.DraftAttachmentKey("SOP42", staged.StoredName))
	require.True(t, exists)
	assert.Equal(t, []byte("imagebytes"), data)

	reloaded, err := drafts.Get(ctx, alice, "SOP42", saved.DraftID)
	require.NoError(t, err)
	require.Len(t, reloaded.StagedFiles, 1)
	assert.Equal(t, staged.TempID, reloaded.StagedFiles[0].TempID)

	require.NoError(t, stager.Delete(ctx, alice, "SOP42", saved.DraftID, staged.TempID))
	_, exists = backing.Contents(elnpath.DraftAttachmentKey("SOP42", staged.StoredName))
	assert.False(t, exists)
	reloaded, err = drafts.Get(ctx, alice, "SOP42", saved.DraftID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.StagedFiles)

	err = stager.Delete(ctx, alice, "SOP42", saved.DraftID, staged.TempID)
	assert.True(t, eln.ErrNotFound.Has(err))
}

func TestDeleteWithoutSOPID(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	backing, _, stager, saved := setup(t, ctx)

	staged, err := stager.Upload(ctx, alice, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      saved.DraftID,
		FieldID:      "gel_image",
		OriginalName: "scan.png",
		Body:         bytes.NewReader([]byte("img")),
	})
	require.NoError(t, err)

	// draft id plus temp id is enough; the sop is recovered from the draft
	require.NoError(t, stager.Delete(ctx, alice, "", saved.DraftID, staged.TempID))
	_, exists := backing.Contents(elnpath.DraftAttachmentKey("SOP42", staged.StoredName))
	assert.False(t, exists)
}

func TestUploadTooLarge(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	backing, _, stager, saved := setup(t, ctx)

	_, err := stager.Upload(ctx, alice, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      saved.DraftID,
		FieldID:      "gel_image",
		OriginalName: "big.png",
		Body:         strings.NewReader(strings.Repeat("x", 17)),
	})
	assert.True(t, eln.ErrTooLarge.Has(err))
	// the partial object must not linger
	assert.Equal(t, 1, backing.Len()) // only the draft body

	// exactly at the cap is fine
	_, err = stager.Upload(ctx, alice, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      saved.DraftID,
		FieldID:      "gel_image",
		OriginalName: "ok.png",
		Body:         strings.NewReader(strings.Repeat("x", 16)),
	})
	assert.NoError(t, err)
}

func TestUploadExtensionPolicy(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, _, stager, saved := setup(t, ctx)

	for _, name := range []string{"tool.exe", "notes.txt", "noext"} {
		_, err := stager.Upload(ctx, alice, filestage.UploadRequest{
			SOPID:        "SOP42",
			DraftID:      saved.DraftID,
			FieldID:      "gel_image",
			OriginalName: name,
			Body:         strings.NewReader("x"),
		})
		assert.True(t, eln.ErrForbiddenType.Has(err), name)
	}

	// allow list match is case-insensitive
	_, err := stager.Upload(ctx, alice, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      saved.DraftID,
		FieldID:      "gel_image",
		OriginalName: "REPORT.PDF",
		Body:         strings.NewReader("x"),
	})
	assert.NoError(t, err)
}

func TestUploadRequiresOwnership(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, _, stager, saved := setup(t, ctx)

	_, err := stager.Upload(ctx, bob, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      saved.DraftID,
		FieldID:      "gel_image",
		OriginalName: "scan.png",
		Body:         strings.NewReader("x"),
	})
	assert.True(t, eln.ErrForbidden.Has(err))

	_, err = stager.Upload(ctx, alice, filestage.UploadRequest{
		SOPID:        "SOP42",
		DraftID:      "dmissing000",
		FieldID:      "gel_image",
		OriginalName: "scan.png",
		Body:         strings.NewReader("x"),
	})
	assert.True(t, eln.ErrNotFound.Has(err))
}
