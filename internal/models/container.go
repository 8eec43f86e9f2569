package models

import (
	"time"

	"github.com/maruel/ksid"
)

// ContainerKind identifies what a container represents in the workspace.
type ContainerKind string

const (
	// ContainerFolder groups other containers and has no content of its own.
	ContainerFolder ContainerKind = "folder"
	// ContainerNote is a rich-text note.
	ContainerNote ContainerKind = "note"
	// ContainerBoard is a whiteboard backed by a structured tree.
	ContainerBoard ContainerKind = "board"
	// ContainerSheet is a spreadsheet backed by a structured tree.
	ContainerSheet ContainerKind = "sheet"
	// ContainerGraph is a node/edge graph workspace. Its nodes, edges, and
	// attachments are stored separately from its content payload.
	ContainerGraph ContainerKind = "graph"
)

// Container is a File/Folder-like entity holding at most one content payload.
// The asset core only ever touches it through Content; scalar CRUD is handled
// by the route layer.
type Container struct {
	ID       ksid.ID       `json:"id"`
	OwnerID  ksid.ID       `json:"owner_id"`
	ParentID ksid.ID       `json:"parent_id,omitempty"`
	Title    string        `json:"title"`
	Kind     ContainerKind `json:"kind"`
	Content  Content       `json:"content,omitzero"`
	Created  time.Time     `json:"created"`
	Modified time.Time     `json:"modified"`
}

// Clone returns a deep copy of the container.
func (c *Container) Clone() *Container {
	out := *c
	out.Content = c.Content.Clone()
	return &out
}
