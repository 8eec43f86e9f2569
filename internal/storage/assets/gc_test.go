package assets

import (
	"iter"
	"slices"
	"testing"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/models"
	"github.com/paperbase/paperbase/internal/storage"
)

// fakeLister serves a fixed container set per owner.
type fakeLister struct {
	containers map[ksid.ID][]*models.Container
}

func (f *fakeLister) IterContainers(owner ksid.ID) (iter.Seq[*models.Container], error) {
	return slices.Values(f.containers[owner]), nil
}

func (f *fakeLister) add(owner ksid.ID, c models.Content) {
	if f.containers == nil {
		f.containers = map[ksid.ID][]*models.Container{}
	}
	f.containers[owner] = append(f.containers[owner], &models.Container{Content: c})
}

func TestCollectorCollect(t *testing.T) {
	store := newTestStore(t)
	dir := newFakeDirectory()
	ledger := NewLedger(dir, storage.Quotas{})
	owner := dir.addOwner(true, storage.Quotas{})
	other := dir.addOwner(true, storage.Quotas{})

	liveRes, err := store.Store(owner, []byte("still referenced"))
	if err != nil {
		t.Fatal(err)
	}
	orphanRes, err := store.Store(owner, []byte("nothing points here anymore"))
	if err != nil {
		t.Fatal(err)
	}
	otherRes, err := store.Store(other, []byte("different owner entirely"))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []ksid.ID{owner, other} {
		if err := ledger.ApplyDelta(id, store.TotalOwnerBytes(id)); err != nil {
			t.Fatal(err)
		}
	}

	lister := &fakeLister{}
	lister.add(owner, models.TextContent("see "+URL(liveRes.Filename)))
	lister.add(other, models.TextContent(URL(otherRes.Filename)))

	c := NewCollector(store, ledger, lister, 0)
	deleted, freed, err := c.Collect(owner)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	orphanSize := int64(len("nothing points here anymore"))
	if deleted != 1 || freed != orphanSize {
		t.Errorf("deleted=%d freed=%d, want 1/%d", deleted, freed, orphanSize)
	}
	if _, err := store.Read(orphanRes.Filename); err == nil {
		t.Error("orphan still readable after collect")
	}
	if _, err := store.Read(liveRes.Filename); err != nil {
		t.Errorf("live blob removed: %v", err)
	}
	if _, err := store.Read(otherRes.Filename); err != nil {
		t.Errorf("other owner's blob removed: %v", err)
	}

	if got, _ := ledger.Usage(owner); got != int64(len("still referenced")) {
		t.Errorf("usage after collect = %d, want %d", got, len("still referenced"))
	}
	if got, _ := ledger.Usage(other); got != otherRes.BytesAdded {
		t.Errorf("other owner's usage = %d, want %d", got, otherRes.BytesAdded)
	}

	// A second pass finds nothing.
	deleted, freed, err = c.Collect(owner)
	if err != nil || deleted != 0 || freed != 0 {
		t.Errorf("second pass = %d, %d, %v, want 0/0/nil", deleted, freed, err)
	}
}

func TestCollectorMaybeCollectThrottled(t *testing.T) {
	store := newTestStore(t)
	dir := newFakeDirectory()
	ledger := NewLedger(dir, storage.Quotas{})
	owner := dir.addOwner(true, storage.Quotas{})
	lister := &fakeLister{}

	first, err := store.Store(owner, []byte("first orphan"))
	if err != nil {
		t.Fatal(err)
	}

	c := NewCollector(store, ledger, lister, 3600)
	c.MaybeCollect(owner)
	if _, err := store.Read(first.Filename); err == nil {
		t.Error("first trigger did not sweep")
	}

	second, err := store.Store(owner, []byte("second orphan"))
	if err != nil {
		t.Fatal(err)
	}
	c.MaybeCollect(owner)
	if _, err := store.Read(second.Filename); err != nil {
		t.Error("throttled trigger ran a pass anyway")
	}
}
