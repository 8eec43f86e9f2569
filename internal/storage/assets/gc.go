package assets

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/maruel/ksid"
	"golang.org/x/time/rate"

	"github.com/paperbase/paperbase/internal/models"
)

// ContainerLister enumerates an owner's live containers so the collector can
// recompute the live reference set. The container repository implements it.
type ContainerLister interface {
	IterContainers(owner ksid.ID) (iter.Seq[*models.Container], error)
}

// Collector deletes an owner's orphaned blobs.
//
// A pass recomputes the full live-reference set from every live container,
// diffs it against the physical blobs on disk, removes anything
// unreferenced, and credits the freed bytes back to the quota ledger.
type Collector struct {
	store      *Store
	ledger     *Ledger
	containers ContainerLister

	mu       sync.Mutex
	limiters map[ksid.ID]*rate.Limiter
	every    rate.Limit
}

// NewCollector wires a collector. Best-effort triggers via MaybeCollect are
// throttled to one pass per owner per minInterval seconds.
func NewCollector(store *Store, ledger *Ledger, containers ContainerLister, minIntervalSeconds float64) *Collector {
	every := rate.Inf
	if minIntervalSeconds > 0 {
		every = rate.Limit(1 / minIntervalSeconds)
	}
	return &Collector{
		store:      store,
		ledger:     ledger,
		containers: containers,
		limiters:   map[ksid.ID]*rate.Limiter{},
		every:      every,
	}
}

// Collect runs a full garbage collection pass for one owner.
//
// A blob referenced by any live container is never deleted, including
// containers unrelated to whatever operation triggered the pass. Blobs with
// zero live references are removed and their bytes applied as a negative
// quota delta. Per-blob failures are collected; the pass keeps going.
func (c *Collector) Collect(owner ksid.ID) (filesDeleted int, bytesFreed int64, err error) {
	it, err := c.containers.IterContainers(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list containers for owner %s: %w", owner, err)
	}

	live := map[string]struct{}{}
	for container := range it {
		for ref := range ScanReferences(container.Content) {
			live[ref] = struct{}{}
		}
	}

	var errs []error
	for name, size := range c.store.IterOwner(owner) {
		if _, ok := live[name]; ok {
			continue
		}
		if _, derr := c.store.Delete(owner, name); derr != nil {
			errs = append(errs, derr)
			continue
		}
		filesDeleted++
		bytesFreed += size
	}

	if bytesFreed > 0 {
		if lerr := c.ledger.ApplyDelta(owner, -bytesFreed); lerr != nil {
			errs = append(errs, lerr)
		}
	}
	return filesDeleted, bytesFreed, errors.Join(errs...)
}

// MaybeCollect runs a throttled best-effort pass after a content mutation.
// It never propagates an error: a failed sweep must not fail or roll back
// the operation that triggered it.
func (c *Collector) MaybeCollect(owner ksid.ID) {
	if !c.allow(owner) {
		return
	}
	deleted, freed, err := c.Collect(owner)
	if err != nil {
		slog.Warn("asset gc pass failed", "owner", owner, "error", err)
		return
	}
	if deleted > 0 {
		slog.Debug("asset gc pass", "owner", owner, "deleted", deleted, "freed", freed)
	}
}

func (c *Collector) allow(owner ksid.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[owner]
	if !ok {
		lim = rate.NewLimiter(c.every, 1)
		c.limiters[owner] = lim
	}
	return lim.Allow()
}
