// Package graphdb persists the node/edge graph workspace of a graph
// container.
//
// Each graph container directory holds three JSONL tables (nodes.jsonl,
// edges.jsonl, attachments.jsonl) plus a settings.json for workspace-level
// presentation settings. Referential integrity is enforced at insert time:
// an edge or attachment can only be added when the nodes it references exist
// in the same workspace.
package graphdb

import (
	"github.com/maruel/ksid"
)

// Node is a graph workspace node.
type Node struct {
	ID       ksid.ID        `json:"id"`
	Title    string         `json:"title"`
	Summary  string         `json:"summary,omitempty"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Width    float64        `json:"width,omitempty"`
	Height   float64        `json:"height,omitempty"`
	Style    string         `json:"style,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// GetID returns the node's ID.
func (n *Node) GetID() ksid.ID {
	return n.ID
}

// EdgeType distinguishes the rendering/semantics of an edge.
type EdgeType string

const (
	// EdgeDirected is a one-way arrow from source to target.
	EdgeDirected EdgeType = "directed"
	// EdgeUndirected is a plain connection.
	EdgeUndirected EdgeType = "undirected"
)

// Edge connects two nodes within the same workspace.
type Edge struct {
	ID     ksid.ID  `json:"id"`
	Source ksid.ID  `json:"source"`
	Target ksid.ID  `json:"target"`
	Label  string   `json:"label,omitempty"`
	Type   EdgeType `json:"type,omitempty"`
}

// Clone returns a copy of the edge.
func (e *Edge) Clone() *Edge {
	c := *e
	return &c
}

// GetID returns the edge's ID.
func (e *Edge) GetID() ksid.ID {
	return e.ID
}

// TargetKind identifies what an attachment points at.
type TargetKind string

const (
	// TargetFile attaches a workspace file container.
	TargetFile TargetKind = "file"
	// TargetFolder attaches a folder container.
	TargetFolder TargetKind = "folder"
	// TargetURL attaches an external link.
	TargetURL TargetKind = "url"
	// TargetTask attaches a task reference.
	TargetTask TargetKind = "task"
)

// Attachment hangs a reference off a node. The target is an opaque pointer
// owned by the route layer; the asset core re-parents attachments during
// duplication but never follows or copies their targets.
type Attachment struct {
	ID     ksid.ID    `json:"id"`
	NodeID ksid.ID    `json:"node_id"`
	Kind   TargetKind `json:"kind"`
	Target string     `json:"target"`
	Label  string     `json:"label,omitempty"`
}

// Clone returns a copy of the attachment.
func (a *Attachment) Clone() *Attachment {
	c := *a
	return &c
}

// GetID returns the attachment's ID.
func (a *Attachment) GetID() ksid.ID {
	return a.ID
}

// Settings are workspace-level presentation settings.
type Settings struct {
	Layout   string         `json:"layout,omitempty"`
	Zoom     float64        `json:"zoom,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
