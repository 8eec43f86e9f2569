package assets

import (
	"fmt"
	"sync"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/models"
	"github.com/paperbase/paperbase/internal/storage"
)

// OwnerDirectory is the external owner store the ledger reads and writes.
// It reports an owner's tier quotas and persists the running usage total.
type OwnerDirectory interface {
	// Quotas returns the owner-level quota layer and whether the owner is
	// on a capped tier. An uncapped owner is exempt from all storage limits
	// including the server default.
	Quotas(owner ksid.ID) (storage.Quotas, bool, error)
	// Usage returns the owner's recorded cumulative bytes used.
	Usage(owner ksid.ID) (int64, error)
	// SetUsage records a new cumulative total for the owner.
	SetUsage(owner ksid.ID, bytes int64) error
}

// Ledger tracks and caps per-owner cumulative storage bytes.
//
// Every read-modify-write on an owner's counter is serialized behind a
// per-owner mutex, so concurrent deltas for the same owner cannot lose
// updates. The cap is the min-positive layering of the server default and
// the owner's own quota; it is enforced only for capped-tier owners.
type Ledger struct {
	dir      OwnerDirectory
	defaults storage.Quotas

	mu    sync.Mutex
	locks map[ksid.ID]*sync.Mutex
}

// NewLedger wires a ledger over an owner directory with server-level
// default quotas.
func NewLedger(dir OwnerDirectory, defaults storage.Quotas) *Ledger {
	return &Ledger{dir: dir, defaults: defaults, locks: map[ksid.ID]*sync.Mutex{}}
}

func (l *Ledger) ownerLock(owner ksid.ID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[owner]
	if !ok {
		m = &sync.Mutex{}
		l.locks[owner] = m
	}
	return m
}

// Usage returns the owner's recorded cumulative bytes used.
func (l *Ledger) Usage(owner ksid.ID) (int64, error) {
	return l.dir.Usage(owner)
}

// Cap returns the owner's effective storage cap in bytes, 0 if uncapped.
func (l *Ledger) Cap(owner ksid.ID) (int64, error) {
	q, capped, err := l.dir.Quotas(owner)
	if err != nil {
		return 0, err
	}
	if !capped {
		return 0, nil
	}
	return storage.EffectiveQuotas(l.defaults, q).MaxStorageBytes, nil
}

// WouldExceed reports whether adding delta bytes would push a capped owner
// over its cap. Uncapped owners never exceed.
func (l *Ledger) WouldExceed(owner ksid.ID, delta int64) (bool, error) {
	err := l.Check(owner, delta)
	if err == nil {
		return false, nil
	}
	if models.IsQuotaExceeded(err) {
		return true, nil
	}
	return false, err
}

// Check returns a *models.QuotaExceededError if adding delta bytes would
// exceed the owner's effective cap. It must run before any asset write the
// delta accounts for.
func (l *Ledger) Check(owner ksid.ID, delta int64) error {
	if delta <= 0 {
		return nil
	}
	limit, err := l.Cap(owner)
	if err != nil {
		return err
	}
	if limit == 0 {
		return nil
	}
	usage, err := l.dir.Usage(owner)
	if err != nil {
		return err
	}
	if usage+delta > limit {
		available := limit - usage
		if available < 0 {
			available = 0
		}
		return &models.QuotaExceededError{OwnerID: owner.String(), Required: delta, Available: available}
	}
	return nil
}

// CheckAssetSize returns a *models.QuotaExceededError if a single asset of
// size bytes exceeds the owner's effective per-asset limit.
func (l *Ledger) CheckAssetSize(owner ksid.ID, size int64) error {
	q, capped, err := l.dir.Quotas(owner)
	if err != nil {
		return err
	}
	if !capped {
		return nil
	}
	limit := storage.EffectiveQuotas(l.defaults, q).MaxAssetSizeBytes
	if limit == 0 || size <= limit {
		return nil
	}
	return &models.QuotaExceededError{OwnerID: owner.String(), Required: size, Available: limit}
}

// CheckContainers returns an error if creating adding more containers on top
// of current would exceed the owner's effective container limit.
func (l *Ledger) CheckContainers(owner ksid.ID, current, adding int) error {
	if adding <= 0 {
		return nil
	}
	q, capped, err := l.dir.Quotas(owner)
	if err != nil {
		return err
	}
	if !capped {
		return nil
	}
	limit := storage.EffectiveQuotas(l.defaults, q).MaxContainers
	if limit == 0 || current+adding <= limit {
		return nil
	}
	return fmt.Errorf("owner %s: %w: %d of %d used, %d more requested",
		owner, models.ErrContainerQuotaExceeded, current, limit, adding)
}

// ApplyDelta adjusts the owner's usage counter by a signed delta.
// The counter never goes below zero.
func (l *Ledger) ApplyDelta(owner ksid.ID, delta int64) error {
	if delta == 0 {
		return nil
	}
	m := l.ownerLock(owner)
	m.Lock()
	defer m.Unlock()

	usage, err := l.dir.Usage(owner)
	if err != nil {
		return fmt.Errorf("failed to read usage for owner %s: %w", owner, err)
	}
	usage += delta
	if usage < 0 {
		usage = 0
	}
	if err := l.dir.SetUsage(owner, usage); err != nil {
		return fmt.Errorf("failed to record usage for owner %s: %w", owner, err)
	}
	return nil
}
