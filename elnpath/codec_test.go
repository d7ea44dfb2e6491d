// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package elnpath_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
)

var testTime = time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC)

func TestSubmissionRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		name      string
		submitter string
		variables []string
	}{
		{"plain", "alice_acme_org", []string{"P7", "S9"}},
		{"empty middle", "alice_acme_org", []string{"P7", "", "S9"}},
		{"all empty", "alice_acme_org", []string{"", "", ""}},
		{"no variables", "bob", nil},
		{"single", "carol", []string{"X1"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			name, err := elnpath.EncodeSubmission(testTime, tt.submitter, tt.variables, "e1f2", "json")
			require.NoError(t, err)

			decoded, err := elnpath.DecodeSubmission(name)
			require.NoError(t, err)
			assert.Equal(t, testTime, decoded.Timestamp)
			assert.Equal(t, tt.submitter, decoded.Submitter)
			if len(tt.variables) == 0 {
				assert.Empty(t, decoded.Variables)
			} else {
				assert.Equal(t, tt.variables, decoded.Variables)
			}
			assert.Equal(t, "e1f2", decoded.ELNUUID)
			assert.Equal(t, "json", decoded.Ext)
		})
	}
}

func TestSubmissionLiteralFilename(t *testing.T) {
	name, err := elnpath.EncodeSubmission(testTime, "alice@acme.org", []string{"P7", "S9"}, "e_xyz", "json")
	require.NoError(t, err)
	assert.Equal(t, "20250130T120000Z-alice_acme_org-P7-S9-e_xyz.json", name)
}

func TestSubmissionEmptyComponentPreserved(t *testing.T) {
	name, err := elnpath.EncodeSubmission(testTime, "alice@acme.org", []string{"P7", ""}, "e_xyz", "json")
	require.NoError(t, err)
	assert.Equal(t, "20250130T120000Z-alice_acme_org-P7--e_xyz.json", name)

	decoded, err := elnpath.DecodeSubmission(name)
	require.NoError(t, err)
	assert.Equal(t, []string{"P7", ""}, decoded.Variables)
}

func TestScrubComponent(t *testing.T) {
	assert.Equal(t, "alice_acme_org", elnpath.ScrubComponent("alice@acme.org"))
	assert.Equal(t, "bob_smith", elnpath.ScrubComponent("bob-smith"))
	assert.Equal(t, "", elnpath.ScrubComponent(""))
	assert.Equal(t, "a_b_c", elnpath.ScrubComponent("a b/c"))
	// scrubbing is idempotent, which the round-trip law relies on
	scrubbed := elnpath.ScrubComponent("we!rd--input")
	assert.Equal(t, scrubbed, elnpath.ScrubComponent(scrubbed))
}

func TestEncodeNeverEmitsDelimiterInsideComponent(t *testing.T) {
	name, err := elnpath.EncodeSubmission(testTime, "a-b-c", []string{"x-y", "-", "ok"}, "id-1", "json")
	require.NoError(t, err)

	decoded, err := elnpath.DecodeSubmission(name)
	require.NoError(t, err)
	for _, v := range decoded.Variables {
		assert.NotContains(t, v, elnpath.Delimiter)
	}
	assert.NotContains(t, decoded.Submitter, elnpath.Delimiter)
	assert.NotContains(t, decoded.ELNUUID, elnpath.Delimiter)
}

func TestEncodeRejectsEmptyActorAndID(t *testing.T) {
	_, err := elnpath.EncodeSubmission(testTime, "", []string{"P7"}, "e1", "json")
	assert.True(t, eln.ErrInvalid.Has(err))

	_, err = elnpath.EncodeSubmission(testTime, "alice", []string{"P7"}, "", "json")
	assert.True(t, eln.ErrInvalid.Has(err))

	// actor reduced to underscores is still non-empty, so it encodes
	_, err = elnpath.EncodeSubmission(testTime, "@@", []string{"P7"}, "e1", "json")
	assert.NoError(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	for _, name := range []string{
		"",
		"nodots",
		"20250130T120000Z-alice.json", // no id slot
		"garbage-alice-P7-e1.json",    // bad timestamp
		"20250130T120000Z--P7-e1.json", // empty actor
		".json",
	} {
		_, err := elnpath.DecodeSubmission(name)
		assert.Error(t, err, "name %q", name)
		assert.True(t, eln.ErrInvalid.Has(err), "name %q", name)
	}
}

func TestDraftRoundTrip(t *testing.T) {
	name, err := elnpath.EncodeDraft(testTime, "alice@acme.org", []string{"P7", ""}, "dabc123", "json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "draft_"))

	decoded, err := elnpath.DecodeDraft(name)
	require.NoError(t, err)
	assert.Equal(t, "alice_acme_org", decoded.Owner)
	assert.Equal(t, []string{"P7", ""}, decoded.Variables)
	assert.Equal(t, "dabc123", decoded.DraftID)

	// decoders do not cross over
	_, err = elnpath.DecodeSubmission(name)
	assert.Error(t, err)
	_, err = elnpath.DecodeDraft("20250130T120000Z-alice-P7-e1.json")
	assert.Error(t, err)
}

func TestStagedRoundTrip(t *testing.T) {
	name, err := elnpath.EncodeStaged("alice@acme.org", "gel_image", "k7m2p9aa", "my-scan.final.png")
	require.NoError(t, err)
	assert.Equal(t, "alice_acme_org-gel_image-k7m2p9aa-my_scan.final.png", name)

	decoded, err := elnpath.DecodeStaged(name)
	require.NoError(t, err)
	assert.Equal(t, "alice_acme_org", decoded.Owner)
	assert.Equal(t, "gel_image", decoded.FieldID)
	assert.Equal(t, "k7m2p9aa", decoded.TempID)
	assert.Equal(t, "my_scan.final.png", decoded.OriginalName)
}

func TestStagedMalformed(t *testing.T) {
	for _, name := range []string{"", "a-b-c", "a--c-d", "onlyone"} {
		_, err := elnpath.DecodeStaged(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestTimestampsSortLexicographically(t *testing.T) {
	earlier, err := elnpath.EncodeSubmission(testTime, "alice", []string{"P7"}, "e1", "json")
	require.NoError(t, err)
	later, err := elnpath.EncodeSubmission(testTime.Add(time.Hour), "alice", []string{"P7"}, "e1", "json")
	require.NoError(t, err)
	assert.Less(t, earlier, later)
}
