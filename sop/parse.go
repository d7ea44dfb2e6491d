// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package sop

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
)

// document is the on-disk shape of a SOP descriptor.
type document struct {
	SOPID                  string         `yaml:"sop_id" json:"sop_id"`
	Version                string         `yaml:"version" json:"version"`
	Title                  string         `yaml:"title" json:"title"`
	FilenameComponentOrder []string       `yaml:"filename_component_order" json:"filename_component_order"`
	Fields                 []docField     `yaml:"fields" json:"fields"`
	Metadata               map[string]any `yaml:"metadata" json:"metadata"`
}

type docField struct {
	ID       string     `yaml:"id" json:"id"`
	Type     string     `yaml:"type" json:"type"`
	Title    string     `yaml:"title" json:"title"`
	Required bool       `yaml:"required" json:"required"`
	Children []docField `yaml:"children" json:"children"`
}

// Parse decodes a SOP document. The format is chosen by ext: "yaml", "yml"
// or "json".
func Parse(data []byte, ext string) (*Descriptor, error) {
	var doc document
	switch strings.ToLower(ext) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
		}
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
		}
	default:
		return nil, eln.ErrInvalid.Wrap(Error.New("unknown descriptor format %q", ext))
	}
	return build(&doc)
}

// build flattens the nested document into the arena and validates the
// filename component order.
func build(doc *document) (*Descriptor, error) {
	if doc.SOPID == "" {
		return nil, eln.ErrInvalid.Wrap(Error.New("descriptor missing sop_id"))
	}
	if elnpath.ScrubComponent(doc.SOPID) != doc.SOPID {
		return nil, eln.ErrInvalid.Wrap(Error.New("sop_id %q contains reserved characters", doc.SOPID))
	}

	descriptor := &Descriptor{
		SOPID:         doc.SOPID,
		Version:       doc.Version,
		Title:         doc.Title,
		FilenameOrder: append([]string(nil), doc.FilenameComponentOrder...),
		Metadata:      doc.Metadata,
		byID:          map[string]int{},
	}

	orderOf := map[string]int{}
	for i, fieldID := range doc.FilenameComponentOrder {
		if fieldID == "" {
			return nil, eln.ErrInvalid.Wrap(Error.New("empty id in filename_component_order"))
		}
		if _, dup := orderOf[fieldID]; dup {
			return nil, eln.ErrInvalid.Wrap(Error.New("duplicate id %q in filename_component_order", fieldID))
		}
		orderOf[fieldID] = i
	}

	// iterative walk, parents carried as arena indices
	type frame struct {
		field  docField
		parent int
	}
	stack := make([]frame, 0, len(doc.Fields))
	for i := len(doc.Fields) - 1; i >= 0; i-- {
		stack = append(stack, frame{field: doc.Fields[i], parent: -1})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		field := top.field
		if field.ID == "" {
			return nil, eln.ErrInvalid.Wrap(Error.New("field missing id"))
		}
		if _, dup := descriptor.byID[field.ID]; dup {
			return nil, eln.ErrInvalid.Wrap(Error.New("duplicate field id %q", field.ID))
		}

		node := Node{
			ID:       field.ID,
			Type:     field.Type,
			Title:    field.Title,
			Required: field.Required,
			Order:    -1,
		}
		switch {
		case len(field.Children) > 0 || field.Type == "container":
			node.Kind = KindContainer
		default:
			node.Kind = KindField
			if order, ok := orderOf[field.ID]; ok {
				node.Kind = KindFilenameComponent
				node.Order = order
			}
		}

		index := len(descriptor.Nodes)
		if top.parent >= 0 {
			node.Parents = []int{top.parent}
			descriptor.Nodes = append(descriptor.Nodes, node)
			parent := &descriptor.Nodes[top.parent]
			parent.Children = append(parent.Children, index)
		} else {
			descriptor.Nodes = append(descriptor.Nodes, node)
		}
		descriptor.byID[field.ID] = index

		for i := len(field.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{field: field.Children[i], parent: index})
		}
	}

	for fieldID := range orderOf {
		node, ok := descriptor.Field(fieldID)
		if !ok {
			return nil, eln.ErrInvalid.Wrap(Error.New("filename component %q is not a declared field", fieldID))
		}
		if node.Kind == KindContainer {
			return nil, eln.ErrInvalid.Wrap(Error.New("filename component %q is a container", fieldID))
		}
	}
	return descriptor, nil
}
