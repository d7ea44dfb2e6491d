// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package sop_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/private/testcontext"
	"github.com/arclab/eln/sop"
	"github.com/arclab/eln/storage"
	"github.com/arclab/eln/storage/teststore"
)

const sop42 = `
sop_id: SOP42
version: "2.1"
title: Gel Electrophoresis
filename_component_order: [project_id, sample_id]
metadata:
  department: biology
fields:
  - id: project_id
    type: string
    required: true
  - id: sample_id
    type: string
  - id: run_details
    type: container
    children:
      - id: notes
        type: text
      - id: gel_image
        type: file
`

func TestParseYAML(t *testing.T) {
	descriptor, err := sop.Parse([]byte(sop42), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "SOP42", descriptor.SOPID)
	assert.Equal(t, "2.1", descriptor.Version)
	assert.Equal(t, []string{"project_id", "sample_id"}, descriptor.FilenameOrder)

	project, ok := descriptor.Field("project_id")
	require.True(t, ok)
	assert.Equal(t, sop.KindFilenameComponent, project.Kind)
	assert.Equal(t, 0, project.Order)
	assert.True(t, project.Required)

	sample, ok := descriptor.Field("sample_id")
	require.True(t, ok)
	assert.Equal(t, sop.KindFilenameComponent, sample.Kind)
	assert.Equal(t, 1, sample.Order)

	container, ok := descriptor.Field("run_details")
	require.True(t, ok)
	assert.Equal(t, sop.KindContainer, container.Kind)
	assert.Len(t, container.Children, 2)

	notes, ok := descriptor.Field("notes")
	require.True(t, ok)
	assert.Equal(t, sop.KindField, notes.Kind)
	assert.Equal(t, -1, notes.Order)
	require.Len(t, notes.Parents, 1)
	assert.Equal(t, "run_details", descriptor.Nodes[notes.Parents[0]].ID)
}

func TestParseJSON(t *testing.T) {
	doc := `{"sop_id":"SOP7","version":"1","filename_component_order":["batch"],"fields":[{"id":"batch","type":"string"}]}`
	descriptor, err := sop.Parse([]byte(doc), "json")
	require.NoError(t, err)
	assert.Equal(t, "SOP7", descriptor.SOPID)
}

func TestParseRejections(t *testing.T) {
	for name, doc := range map[string]string{
		"missing sop_id":    `{"fields":[]}`,
		"delimiter in id":   `{"sop_id":"SOP-42"}`,
		"unknown component": `{"sop_id":"S1","filename_component_order":["ghost"],"fields":[{"id":"real"}]}`,
		"container in order": `{"sop_id":"S1","filename_component_order":["box"],
			"fields":[{"id":"box","type":"container","children":[{"id":"inner"}]}]}`,
		"duplicate field": `{"sop_id":"S1","fields":[{"id":"a"},{"id":"a"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := sop.Parse([]byte(doc), "json")
			assert.True(t, eln.ErrInvalid.Has(err))
		})
	}
}

func TestFilenameVariables(t *testing.T) {
	descriptor, err := sop.Parse([]byte(sop42), "yaml")
	require.NoError(t, err)

	variables := descriptor.FilenameVariables(map[string]any{
		"project_id": "P7",
		"notes":      "irrelevant",
	})
	assert.Equal(t, []string{"P7", ""}, variables)

	variables = descriptor.FilenameVariables(map[string]any{"sample_id": 42})
	assert.Equal(t, []string{"", ""}, variables)
}

func TestStoreLoadAndCache(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	backing := teststore.New()
	require.NoError(t, backing.Put(ctx, elnpath.SOPKey("SOP42", "yaml"),
		bytes.NewReader([]byte(sop42)), storage.PutOptions{Size: -1}))

	store := sop.NewStore(zaptest.NewLogger(t), backing)

	descriptor, err := store.Get(ctx, "SOP42")
	require.NoError(t, err)
	assert.Equal(t, "SOP42", descriptor.SOPID)

	// second get is served from cache even if the backing object vanishes
	require.NoError(t, backing.Delete(ctx, elnpath.SOPKey("SOP42", "yaml")))
	again, err := store.Get(ctx, "SOP42")
	require.NoError(t, err)
	assert.Same(t, descriptor, again)

	_, err = store.Get(ctx, "MISSING")
	assert.True(t, eln.ErrNotFound.Has(err))

	_, err = store.Get(ctx, "../escape")
	assert.True(t, eln.ErrInvalid.Has(err))
}

func TestStoreList(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	backing := teststore.New()
	require.NoError(t, backing.Put(ctx, elnpath.SOPKey("SOP42", "yaml"),
		bytes.NewReader([]byte(sop42)), storage.PutOptions{Size: -1}))
	require.NoError(t, backing.Put(ctx, elnpath.SOPKey("BROKEN", "json"),
		bytes.NewReader([]byte("{")), storage.PutOptions{Size: -1}))

	store := sop.NewStore(zaptest.NewLogger(t), backing)
	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SOP42", entries[0].SOPID)
	assert.Equal(t, "Gel Electrophoresis", entries[0].Title)
}
