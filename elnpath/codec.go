// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package elnpath implements the regulatory filename wire format and the
// logical storage layout for drafts, submissions and staged attachments.
//
// A submission filename is
//
//	{timestamp}-{submitter}-{component_1}-…-{component_N}-{id}.{ext}
//
// where "-" is the reserved delimiter and no component may contain it. The
// component count is not part of the filename; decoders recover it from the
// fixed head (timestamp, submitter) and tail (id) slots. Filenames written
// once must decode forever, so encoding is deliberately strict.
package elnpath

import (
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/arclab/eln/eln"
)

// Error is the default elnpath error class.
var Error = errs.Class("elnpath")

// Delimiter is the single reserved character separating filename components.
const Delimiter = "-"

// DraftPrefix marks draft filenames.
const draftNamePrefix = "draft_"

// TimeLayout is the fixed-width, lexicographically sortable instant format
// embedded in filenames.
const TimeLayout = "20060102T150405Z"

// Submission is the decoded form of a submission filename.
type Submission struct {
	Timestamp time.Time
	Submitter string
	Variables []string
	ELNUUID   string
	Ext       string
}

// Draft is the decoded form of a draft filename.
type Draft struct {
	Timestamp time.Time
	Owner     string
	Variables []string
	DraftID   string
	Ext       string
}

// Staged is the decoded form of a staged attachment filename.
type Staged struct {
	Owner        string
	FieldID      string
	TempID       string
	OriginalName string
}

// ScrubComponent deterministically normalizes a filename component: every
// byte outside [A-Za-z0-9_] becomes '_'. Empty input stays empty so that
// positional encoding is preserved. Scrubbed strings are fix-points, which
// is what makes encode/decode round-trip.
func ScrubComponent(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ScrubName normalizes an original attachment filename: only the reserved
// delimiter is replaced, dots and the rest are kept so the name stays
// recognizable to a human reader.
func ScrubName(s string) string {
	return strings.ReplaceAll(s, Delimiter, "_")
}

// EncodeSubmission builds a submission filename. Components are scrubbed;
// submitter and id must be non-empty after scrubbing.
func EncodeSubmission(ts time.Time, submitter string, variables []string, elnUUID, ext string) (string, error) {
	return encode("", ts, submitter, variables, elnUUID, ext)
}

// EncodeDraft builds a draft filename, the submission grammar with a draft_
// prefix and the draft id in the tail slot.
func EncodeDraft(ts time.Time, owner string, variables []string, draftID, ext string) (string, error) {
	return encode(draftNamePrefix, ts, owner, variables, draftID, ext)
}

func encode(prefix string, ts time.Time, actor string, variables []string, id, ext string) (string, error) {
	actor = ScrubComponent(actor)
	if actor == "" {
		return "", eln.ErrInvalid.Wrap(Error.New("empty actor component"))
	}
	id = ScrubComponent(id)
	if id == "" {
		return "", eln.ErrInvalid.Wrap(Error.New("empty id component"))
	}
	if ext == "" || strings.ContainsAny(ext, Delimiter+".") {
		return "", eln.ErrInvalid.Wrap(Error.New("invalid extension %q", ext))
	}

	parts := make([]string, 0, len(variables)+3)
	parts = append(parts, ts.UTC().Format(TimeLayout), actor)
	for _, v := range variables {
		parts = append(parts, ScrubComponent(v))
	}
	parts = append(parts, id)
	return prefix + strings.Join(parts, Delimiter) + "." + ext, nil
}

// DecodeSubmission parses a submission filename back into the tuple that
// produced it. Empty components are preserved at their positions.
func DecodeSubmission(name string) (Submission, error) {
	if strings.HasPrefix(name, draftNamePrefix) {
		return Submission{}, eln.ErrInvalid.Wrap(Error.New("draft filename given to submission decoder"))
	}
	ts, actor, variables, id, ext, err := decode(name)
	if err != nil {
		return Submission{}, err
	}
	return Submission{Timestamp: ts, Submitter: actor, Variables: variables, ELNUUID: id, Ext: ext}, nil
}

// DecodeDraft parses a draft filename.
func DecodeDraft(name string) (Draft, error) {
	if !strings.HasPrefix(name, draftNamePrefix) {
		return Draft{}, eln.ErrInvalid.Wrap(Error.New("missing draft prefix"))
	}
	ts, actor, variables, id, ext, err := decode(strings.TrimPrefix(name, draftNamePrefix))
	if err != nil {
		return Draft{}, err
	}
	return Draft{Timestamp: ts, Owner: actor, Variables: variables, DraftID: id, Ext: ext}, nil
}

func decode(name string) (ts time.Time, actor string, variables []string, id, ext string, err error) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return ts, "", nil, "", "", eln.ErrInvalid.Wrap(Error.New("missing extension"))
	}
	ext = name[dot+1:]

	parts := strings.Split(name[:dot], Delimiter)
	if len(parts) < 3 {
		return ts, "", nil, "", "", eln.ErrInvalid.Wrap(Error.New("too few components"))
	}
	ts, err = time.Parse(TimeLayout, parts[0])
	if err != nil {
		return ts, "", nil, "", "", eln.ErrInvalid.Wrap(Error.New("bad timestamp %q", parts[0]))
	}
	actor = parts[1]
	if actor == "" {
		return ts, "", nil, "", "", eln.ErrInvalid.Wrap(Error.New("empty actor component"))
	}
	id = parts[len(parts)-1]
	if id == "" {
		return ts, "", nil, "", "", eln.ErrInvalid.Wrap(Error.New("empty id component"))
	}
	variables = parts[2 : len(parts)-1]
	return ts, actor, variables, id, ext, nil
}

// EncodeStaged builds a staged attachment filename:
// {owner}-{field}-{tempid}-{original_name}. The original name keeps its
// extension; only delimiters inside it are scrubbed.
func EncodeStaged(owner, fieldID, tempID, originalName string) (string, error) {
	owner = ScrubComponent(owner)
	fieldID = ScrubComponent(fieldID)
	tempID = ScrubComponent(tempID)
	if owner == "" || fieldID == "" || tempID == "" {
		return "", eln.ErrInvalid.Wrap(Error.New("empty staged name component"))
	}
	originalName = ScrubName(originalName)
	if originalName == "" {
		return "", eln.ErrInvalid.Wrap(Error.New("empty original name"))
	}
	return strings.Join([]string{owner, fieldID, tempID, originalName}, Delimiter), nil
}

// DecodeStaged parses a staged attachment filename.
func DecodeStaged(name string) (Staged, error) {
	parts := strings.SplitN(name, Delimiter, 4)
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return Staged{}, eln.ErrInvalid.Wrap(Error.New("malformed staged filename"))
	}
	return Staged{Owner: parts[0], FieldID: parts[1], TempID: parts[2], OriginalName: parts[3]}, nil
}
