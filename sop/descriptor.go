// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package sop parses Standard Operating Procedure documents into typed
// descriptors consumed by the draft store and the submission engine.
//
// Descriptors are read-only input: this package never writes to storage.
// Schema elements are held in a flat arena indexed by position; parent and
// child references are arena indices, so traversal is iterative and the
// structure has no pointer cycles.
package sop

import (
	"github.com/zeebo/errs"
)

// Error is the default sop error class.
var Error = errs.Class("sop")

// Kind tags the three kinds of schema elements.
type Kind int

// Schema element kinds.
const (
	KindField Kind = iota
	KindContainer
	KindFilenameComponent
)

// Node is one schema element in the descriptor arena.
type Node struct {
	Kind     Kind
	ID       string
	Type     string
	Title    string
	Required bool
	// Order is the position in the filename component order, -1 when the
	// field does not participate in filenames.
	Order int
	// Parents and Children are arena indices.
	Parents  []int
	Children []int
}

// Descriptor is a parsed SOP document.
type Descriptor struct {
	SOPID   string
	Version string
	Title   string

	// Nodes is the arena; index 0..len-1, referenced by Parents/Children.
	Nodes []Node
	// FilenameOrder is the ordered list of field ids whose values
	// participate in filenames.
	FilenameOrder []string
	// Metadata is the opaque metadata block passed through to clients and
	// snapshotted into submissions.
	Metadata map[string]any

	byID map[string]int
}

// Field returns the arena node for a field id.
func (descriptor *Descriptor) Field(id string) (Node, bool) {
	index, ok := descriptor.byID[id]
	if !ok {
		return Node{}, false
	}
	return descriptor.Nodes[index], true
}

// Fields returns every field node in arena order.
func (descriptor *Descriptor) Fields() []Node {
	var fields []Node
	for _, node := range descriptor.Nodes {
		if node.Kind != KindContainer {
			fields = append(fields, node)
		}
	}
	return fields
}

// FilenameVariables extracts the filename component values from a form-data
// map positionally by the declared order. Missing or non-string values
// become empty strings at their index.
func (descriptor *Descriptor) FilenameVariables(formData map[string]any) []string {
	variables := make([]string, len(descriptor.FilenameOrder))
	for i, fieldID := range descriptor.FilenameOrder {
		if value, ok := formData[fieldID].(string); ok {
			variables[i] = value
		}
	}
	return variables
}
