// Package models defines the core domain types of the paperbase asset core.
//
// It includes the Content tagged union shared by every container kind, the
// Container entity itself, and the typed errors the asset subsystem reports
// to its callers.
package models

import (
	"encoding/json"
	"fmt"
)

// ContentKind discriminates the content representations a container can hold.
type ContentKind string

const (
	// KindNone marks a container with no content payload (e.g. a folder).
	KindNone ContentKind = ""
	// KindText is plain text.
	KindText ContentKind = "text"
	// KindRich is an HTML fragment produced by the rich-text editor.
	KindRich ContentKind = "rich"
	// KindTree is a structured JSON tree (whiteboards, spreadsheets).
	KindTree ContentKind = "tree"
	// KindBinary is an opaque binary payload.
	KindBinary ContentKind = "binary"
)

// Content is a tagged union over the content representations.
// Exactly one of Text, Tree, Blob is meaningful, selected by Kind.
//
// Tree values are restricted to what encoding/json produces: map[string]any,
// []any, string, float64, bool, nil.
type Content struct {
	Kind ContentKind
	Text string // KindText, KindRich
	Tree any    // KindTree
	Blob []byte // KindBinary
}

// TextContent returns a plain-text content value.
func TextContent(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// RichContent returns an HTML content value.
func RichContent(s string) Content {
	return Content{Kind: KindRich, Text: s}
}

// TreeContent returns a structured-tree content value.
func TreeContent(v any) Content {
	return Content{Kind: KindTree, Tree: v}
}

// BinaryContent returns a binary content value.
func BinaryContent(b []byte) Content {
	return Content{Kind: KindBinary, Blob: b}
}

// IsZero reports whether the content carries no payload.
func (c Content) IsZero() bool {
	return c.Kind == KindNone
}

// ByteSize returns the chargeable size of the content in bytes.
// Tree content is measured by its canonical JSON encoding.
func (c Content) ByteSize() int64 {
	switch c.Kind {
	case KindText, KindRich:
		return int64(len(c.Text))
	case KindTree:
		data, err := json.Marshal(c.Tree)
		if err != nil {
			return 0
		}
		return int64(len(data))
	case KindBinary:
		return int64(len(c.Blob))
	}
	return 0
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	out := c
	if c.Kind == KindTree && c.Tree != nil {
		out.Tree = cloneTree(c.Tree)
	}
	if c.Kind == KindBinary && c.Blob != nil {
		out.Blob = append([]byte(nil), c.Blob...)
	}
	return out
}

func cloneTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			m[k] = cloneTree(child)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, child := range t {
			s[i] = cloneTree(child)
		}
		return s
	default:
		return v
	}
}

// contentJSON is the wire format of Content.
type contentJSON struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	Tree any         `json:"tree,omitempty"`
	Blob []byte      `json:"blob,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(contentJSON{Kind: c.Kind, Text: c.Text, Tree: c.Tree, Blob: c.Blob})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(b []byte) error {
	var w contentJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindNone, KindText, KindRich, KindTree, KindBinary:
	default:
		return fmt.Errorf("unknown content kind %q", w.Kind)
	}
	*c = Content{Kind: w.Kind, Text: w.Text, Tree: w.Tree, Blob: w.Blob}
	return nil
}
