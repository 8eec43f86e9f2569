package graphdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/jsonl"
)

var (
	errNodeIDRequired = errors.New("node id is required")
	errUnknownNode    = errors.New("node does not exist in this workspace")
)

// Store is one graph workspace's persistence, rooted at a container
// directory.
type Store struct {
	dir         string
	nodes       *jsonl.Table[*Node]
	edges       *jsonl.Table[*Edge]
	attachments *jsonl.Table[*Attachment]
}

// Open loads (or initializes) the graph tables in a container directory.
func Open(dir string) (*Store, error) {
	nodes, err := jsonl.Open[*Node](filepath.Join(dir, "nodes.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open nodes table: %w", err)
	}
	edges, err := jsonl.Open[*Edge](filepath.Join(dir, "edges.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open edges table: %w", err)
	}
	attachments, err := jsonl.Open[*Attachment](filepath.Join(dir, "attachments.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open attachments table: %w", err)
	}
	return &Store{dir: dir, nodes: nodes, edges: edges, attachments: attachments}, nil
}

// AddNode inserts a node. A zero ID is assigned.
func (s *Store) AddNode(n *Node) (*Node, error) {
	out := n.Clone()
	if out.ID.IsZero() {
		out.ID = ksid.NewID()
	}
	if err := s.nodes.Append(out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNode returns a node by ID.
func (s *Store) GetNode(id ksid.ID) (*Node, bool) {
	return s.nodes.Get(id)
}

// IterNodes iterates over all nodes.
func (s *Store) IterNodes() iter.Seq[*Node] {
	return s.nodes.All()
}

// DeleteNode removes a node together with the edges and attachments that
// reference it, keeping the workspace invariant that every reference
// resolves.
func (s *Store) DeleteNode(id ksid.ID) error {
	var errs []error
	for e := range s.edges.All() {
		if e.Source == id || e.Target == id {
			errs = append(errs, s.edges.Delete(e.ID))
		}
	}
	for a := range s.attachments.All() {
		if a.NodeID == id {
			errs = append(errs, s.attachments.Delete(a.ID))
		}
	}
	errs = append(errs, s.nodes.Delete(id))
	return errors.Join(errs...)
}

// AddEdge inserts an edge. Both endpoints must resolve within this
// workspace.
func (s *Store) AddEdge(e *Edge) (*Edge, error) {
	if e.Source.IsZero() || e.Target.IsZero() {
		return nil, errNodeIDRequired
	}
	if _, ok := s.nodes.Get(e.Source); !ok {
		return nil, fmt.Errorf("edge source %s: %w", e.Source, errUnknownNode)
	}
	if _, ok := s.nodes.Get(e.Target); !ok {
		return nil, fmt.Errorf("edge target %s: %w", e.Target, errUnknownNode)
	}
	out := e.Clone()
	if out.ID.IsZero() {
		out.ID = ksid.NewID()
	}
	if err := s.edges.Append(out); err != nil {
		return nil, err
	}
	return out, nil
}

// IterEdges iterates over all edges.
func (s *Store) IterEdges() iter.Seq[*Edge] {
	return s.edges.All()
}

// AddAttachment inserts an attachment. The owning node must resolve within
// this workspace.
func (s *Store) AddAttachment(a *Attachment) (*Attachment, error) {
	if a.NodeID.IsZero() {
		return nil, errNodeIDRequired
	}
	if _, ok := s.nodes.Get(a.NodeID); !ok {
		return nil, fmt.Errorf("attachment node %s: %w", a.NodeID, errUnknownNode)
	}
	out := a.Clone()
	if out.ID.IsZero() {
		out.ID = ksid.NewID()
	}
	if err := s.attachments.Append(out); err != nil {
		return nil, err
	}
	return out, nil
}

// IterAttachments iterates over all attachments.
func (s *Store) IterAttachments() iter.Seq[*Attachment] {
	return s.attachments.All()
}

// Counts returns the number of nodes, edges, and attachments.
func (s *Store) Counts() (nodes, edges, attachments int) {
	return s.nodes.Len(), s.edges.Len(), s.attachments.Len()
}

// Settings loads the workspace settings. Missing settings are the zero
// value.
func (s *Store) Settings() (Settings, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "settings.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	return out, nil
}

// SetSettings persists the workspace settings.
func (s *Store) SetSettings(v Settings) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "settings.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
