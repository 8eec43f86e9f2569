// Package dup clones containers and container trees across owners,
// re-homing their assets and remapping graph entity IDs, with an exact
// chargeable byte delta applied to the target owner's ledger.
package dup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/models"
	"github.com/paperbase/paperbase/internal/storage/assets"
	"github.com/paperbase/paperbase/internal/storage/content"
	"github.com/paperbase/paperbase/internal/storage/graphdb"
)

// Mode selects the naming convention for the copy.
type Mode string

const (
	// ModeDuplicate appends a copy suffix to the title. Used for
	// same-owner duplication.
	ModeDuplicate Mode = "duplicate"
	// ModeTransfer preserves the title verbatim. Used for cross-owner
	// transfers.
	ModeTransfer Mode = "transfer"
)

const copySuffix = " (copy)"

const (
	// DefaultMaxDepth is the hard ceiling on tree recursion depth.
	DefaultMaxDepth = 32
	// DefaultMaxEntities caps containers plus graph rows processed in one
	// operation; past it remaining subtrees are aborted and counted.
	DefaultMaxEntities = 10_000
)

var (
	errSourceRequired = errors.New("source container is required")
	errTargetRequired = errors.New("target owner is required")
)

// Result summarizes one duplication operation. Skipped assets and dropped
// graph rows are counted here rather than surfaced as errors.
type Result struct {
	// Container is the newly created root.
	Container *models.Container
	// BytesCharged is the exact delta applied to the target owner's
	// ledger: final content sizes plus bytes newly stored for inline data
	// and re-homed assets, each distinct hash counted once.
	BytesCharged int64
	// EdgesDropped counts edges whose endpoint failed to copy.
	EdgesDropped int
	// AttachmentsDropped counts attachments whose owning node failed to
	// copy.
	AttachmentsDropped int
	// AssetsSkipped counts references left unchanged because the source
	// blob could not be read or an inline payload could not be decoded.
	AssetsSkipped int
	// SubtreesAborted counts subtrees cut off by the depth ceiling, a
	// cycle, or the entity cap.
	SubtreesAborted int
}

// Engine performs container duplication. It runs synchronously inside the
// triggering call; there are no background workers.
type Engine struct {
	containers *content.FileStore
	store      *assets.Store
	ledger     *assets.Ledger
	gc         *assets.Collector

	maxDepth    int
	maxEntities int
}

// NewEngine wires a duplication engine. gc may be nil to disable the
// post-operation garbage collection trigger.
func NewEngine(containers *content.FileStore, store *assets.Store, ledger *assets.Ledger, gc *assets.Collector) *Engine {
	return &Engine{
		containers:  containers,
		store:       store,
		ledger:      ledger,
		gc:          gc,
		maxDepth:    DefaultMaxDepth,
		maxEntities: DefaultMaxEntities,
	}
}

// SetLimits overrides the depth ceiling and entity cap. Non-positive values
// keep the defaults.
func (e *Engine) SetLimits(maxDepth, maxEntities int) {
	if maxDepth > 0 {
		e.maxDepth = maxDepth
	}
	if maxEntities > 0 {
		e.maxEntities = maxEntities
	}
}

// batch carries the state shared across every container of one operation.
// The filename mapping and the store-level dedup together guarantee each
// distinct hash is materialized and charged at most once per batch.
type batch struct {
	sourceOwner ksid.ID
	targetOwner ksid.ID
	mode        Mode

	// mapping accumulates old filename to new filename across the batch.
	mapping map[string]string
	// bytesNew sums BytesAdded from every store call; dedup hits add zero.
	bytesNew int64
	// contentBytes sums the final content size of every created container.
	contentBytes int64
	entities     int

	res *Result
}

// Duplicate clones a single container to a target owner and parent.
//
// The quota pre-check is a conservative estimate computed from the source;
// it gates the operation before any asset write for the target owner. The
// charge applied to the ledger afterwards is exact.
func (e *Engine) Duplicate(ctx context.Context, sourceOwner, containerID, targetOwner, targetParent ksid.ID, mode Mode) (*Result, error) {
	return e.run(ctx, sourceOwner, containerID, targetOwner, targetParent, mode, false)
}

// DuplicateTree clones a container and all of its descendants. Subtrees cut
// off by the depth ceiling, a cycle, or the entity cap are counted in the
// result; the rest of the tree still completes.
func (e *Engine) DuplicateTree(ctx context.Context, sourceOwner, rootID, targetOwner, targetParent ksid.ID, mode Mode) (*Result, error) {
	return e.run(ctx, sourceOwner, rootID, targetOwner, targetParent, mode, true)
}

func (e *Engine) run(ctx context.Context, sourceOwner, rootID, targetOwner, targetParent ksid.ID, mode Mode, recurse bool) (*Result, error) {
	if rootID.IsZero() || sourceOwner.IsZero() {
		return nil, errSourceRequired
	}
	if targetOwner.IsZero() {
		return nil, errTargetRequired
	}

	root, err := e.containers.Read(sourceOwner, rootID)
	if err != nil {
		return nil, err
	}

	estimate, toCreate := e.estimate(sourceOwner, root, recurse, 0, map[ksid.ID]struct{}{})
	if err := e.ledger.Check(targetOwner, estimate); err != nil {
		return nil, err
	}
	existing, err := e.containers.CountContainers(targetOwner)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.CheckContainers(targetOwner, existing, toCreate); err != nil {
		return nil, err
	}

	b := &batch{
		sourceOwner: sourceOwner,
		targetOwner: targetOwner,
		mode:        mode,
		mapping:     map[string]string{},
		res:         &Result{},
	}
	visited := map[ksid.ID]struct{}{rootID: {}}
	created, err := e.copyTree(ctx, b, root, targetParent, recurse, 0, visited)
	if err != nil {
		if created != nil {
			if derr := e.containers.Delete(targetOwner, created.ID); derr != nil {
				slog.Warn("failed to roll back duplicated tree", "id", created.ID, "error", derr)
			}
		}
		return nil, err
	}
	b.res.Container = created
	b.res.BytesCharged = b.contentBytes + b.bytesNew

	if b.res.BytesCharged > estimate {
		slog.Warn("duplication charge exceeded pre-check estimate",
			"owner", targetOwner, "estimate", estimate, "charged", b.res.BytesCharged)
	}
	if err := e.ledger.ApplyDelta(targetOwner, b.res.BytesCharged); err != nil {
		return nil, fmt.Errorf("failed to charge duplication: %w", err)
	}
	if e.gc != nil {
		e.gc.MaybeCollect(targetOwner)
	}
	return b.res, nil
}

// estimate computes the conservative pre-check delta from the source tree:
// content sizes doubled (covering inline payloads that may be materialized
// as blobs) plus the on-disk size of every referenced asset, repeats
// included, and the number of containers the copy would create. It never
// reads or writes for the target owner.
func (e *Engine) estimate(owner ksid.ID, c *models.Container, recurse bool, depth int, visited map[ksid.ID]struct{}) (int64, int) {
	if depth > e.maxDepth {
		return 0, 0
	}
	if _, ok := visited[c.ID]; ok {
		return 0, 0
	}
	visited[c.ID] = struct{}{}

	total := 2 * c.Content.ByteSize()
	count := 1
	for name := range assets.ScanReferences(c.Content) {
		if n, err := e.store.Size(name); err == nil {
			total += n
		}
	}
	if recurse {
		children, err := e.containers.Children(owner, c.ID)
		if err == nil {
			for _, child := range children {
				t, n := e.estimate(owner, child, recurse, depth+1, visited)
				total += t
				count += n
			}
		}
	}
	return total, count
}

// copyTree copies one container, then its children. An aborted child
// subtree is counted and skipped; a fatal error propagates so the caller
// can roll back the whole tree.
func (e *Engine) copyTree(ctx context.Context, b *batch, src *models.Container, targetParent ksid.ID, recurse bool, depth int, visited map[ksid.ID]struct{}) (*models.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	created, err := e.copyOne(b, src, targetParent)
	if err != nil {
		return nil, err
	}
	if !recurse {
		return created, nil
	}

	children, err := e.containers.Children(b.sourceOwner, src.ID)
	if err != nil {
		return created, err
	}
	for _, child := range children {
		if reason := b.abortReason(e, child, depth+1, visited); reason != "" {
			slog.Warn("aborting duplication subtree", "id", child.ID, "title", child.Title, "reason", reason)
			b.res.SubtreesAborted++
			continue
		}
		visited[child.ID] = struct{}{}
		if _, err := e.copyTree(ctx, b, child, created.ID, recurse, depth+1, visited); err != nil {
			return created, err
		}
	}
	return created, nil
}

// abortReason reports why a subtree must not be entered, or "" to proceed.
func (b *batch) abortReason(e *Engine, c *models.Container, depth int, visited map[ksid.ID]struct{}) string {
	if depth >= e.maxDepth {
		return "depth ceiling"
	}
	if _, ok := visited[c.ID]; ok {
		return "cycle"
	}
	if b.entities >= e.maxEntities {
		return "entity cap"
	}
	return ""
}

// copyOne applies the per-container contract: copy scalars, persist inline
// data for the target owner, re-home referenced assets, rewrite references,
// create the container, then remap graph rows for graph containers.
func (e *Engine) copyOne(b *batch, src *models.Container, targetParent ksid.ID) (*models.Container, error) {
	b.entities++

	out := src.Clone()
	out.ID = 0
	out.OwnerID = b.targetOwner
	out.ParentID = targetParent
	if b.mode == ModeDuplicate {
		out.Title = src.Title + copySuffix
	}

	c, err := e.rehomeContent(b, out.Content)
	if err != nil {
		return nil, err
	}
	out.Content = c

	created, err := e.containers.Create(out)
	if err != nil {
		return nil, err
	}
	b.contentBytes += created.Content.ByteSize()

	if src.Kind == models.ContainerGraph {
		if err := e.copyGraph(b, src, created); err != nil {
			return created, err
		}
	}
	return created, nil
}

// rehomeContent processes one content value for the target owner: inline
// payloads are persisted as blobs, then every referenced source asset not
// yet in the batch mapping is materialized from its source bytes, then all
// references are rewritten at once with the accumulated mapping.
func (e *Engine) rehomeContent(b *batch, c models.Content) (models.Content, error) {
	inl, err := assets.PersistInline(e.store, b.targetOwner, c)
	if err != nil {
		return models.Content{}, err
	}
	b.bytesNew += inl.BytesAdded
	b.res.AssetsSkipped += inl.Skipped
	c = inl.Content

	for name := range assets.ScanReferences(c) {
		if _, ok := b.mapping[name]; ok {
			continue
		}
		owner, _, _, err := assets.ParseBlobName(name)
		if err != nil {
			continue
		}
		if owner == b.targetOwner {
			continue
		}
		raw, err := e.store.Read(name)
		if err != nil {
			// The source blob is gone. Leave the reference as written.
			slog.Debug("skipping unreadable asset during duplication", "filename", name, "error", err)
			b.res.AssetsSkipped++
			continue
		}
		if err := e.ledger.CheckAssetSize(b.targetOwner, int64(len(raw))); err != nil {
			return models.Content{}, err
		}
		res, err := e.store.Store(b.targetOwner, raw)
		if err != nil {
			return models.Content{}, fmt.Errorf("failed to re-home asset %s: %w", name, err)
		}
		b.bytesNew += res.BytesAdded
		b.mapping[name] = res.Filename
	}
	return assets.RewriteReferences(c, b.mapping), nil
}

// copyGraph clones a graph container's settings, nodes, edges, and
// attachments into the created container's directory. Edges and
// attachments whose nodes did not copy are dropped and counted.
func (e *Engine) copyGraph(b *batch, src, dst *models.Container) error {
	srcGraph, err := graphdb.Open(e.containers.ContainerDir(src.OwnerID, src.ID))
	if err != nil {
		return fmt.Errorf("failed to open source graph: %w", err)
	}
	dstGraph, err := graphdb.Open(e.containers.ContainerDir(dst.OwnerID, dst.ID))
	if err != nil {
		return fmt.Errorf("failed to open target graph: %w", err)
	}

	settings, err := srcGraph.Settings()
	if err == nil {
		if err := dstGraph.SetSettings(settings); err != nil {
			return fmt.Errorf("failed to copy graph settings: %w", err)
		}
	}

	nodeMap := map[ksid.ID]ksid.ID{}
	for n := range srcGraph.IterNodes() {
		b.entities++
		clone := n.Clone()
		clone.ID = 0
		created, err := dstGraph.AddNode(clone)
		if err != nil {
			return fmt.Errorf("failed to copy graph node %s: %w", n.ID, err)
		}
		nodeMap[n.ID] = created.ID
	}

	for edge := range srcGraph.IterEdges() {
		b.entities++
		source, okS := nodeMap[edge.Source]
		target, okT := nodeMap[edge.Target]
		if !okS || !okT {
			slog.Debug("dropping graph edge with unmapped endpoint", "edge", edge.ID)
			b.res.EdgesDropped++
			continue
		}
		clone := edge.Clone()
		clone.ID = 0
		clone.Source = source
		clone.Target = target
		if _, err := dstGraph.AddEdge(clone); err != nil {
			return fmt.Errorf("failed to copy graph edge %s: %w", edge.ID, err)
		}
	}

	// Attachments are re-parented onto the mapped node; their targets are
	// left untouched.
	for a := range srcGraph.IterAttachments() {
		b.entities++
		node, ok := nodeMap[a.NodeID]
		if !ok {
			slog.Debug("dropping graph attachment with unmapped node", "attachment", a.ID)
			b.res.AttachmentsDropped++
			continue
		}
		clone := a.Clone()
		clone.ID = 0
		clone.NodeID = node
		if _, err := dstGraph.AddAttachment(clone); err != nil {
			return fmt.Errorf("failed to copy graph attachment %s: %w", a.ID, err)
		}
	}
	return nil
}
