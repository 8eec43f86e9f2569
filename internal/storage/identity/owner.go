// Package identity manages workspace owners and their storage accounting
// records.
package identity

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/jsonl"
	"github.com/paperbase/paperbase/internal/models"
	"github.com/paperbase/paperbase/internal/storage"
)

var errNameRequired = errors.New("owner name is required")

// Tier is an owner's billing tier.
type Tier string

const (
	// TierCapped owners are subject to the effective storage cap.
	TierCapped Tier = "capped"
	// TierUncapped owners have no storage cap.
	TierUncapped Tier = "uncapped"
)

// Owner is a workspace tenant: the unit of asset scoping and quota
// accounting.
type Owner struct {
	ID        ksid.ID        `json:"id"`
	Name      string         `json:"name"`
	Tier      Tier           `json:"tier"`
	Quotas    storage.Quotas `json:"quotas"`
	BytesUsed int64          `json:"bytes_used"`
	Created   time.Time      `json:"created"`
}

// Clone returns a copy of the owner.
func (o *Owner) Clone() *Owner {
	c := *o
	return &c
}

// GetID returns the owner's ID.
func (o *Owner) GetID() ksid.ID {
	return o.ID
}

// Validate checks the owner record.
func (o *Owner) Validate() error {
	if o.Name == "" {
		return errNameRequired
	}
	if o.Tier != TierCapped && o.Tier != TierUncapped {
		return fmt.Errorf("unknown owner tier %q", o.Tier)
	}
	if err := o.Quotas.Validate(); err != nil {
		return fmt.Errorf("invalid owner quotas: %w", err)
	}
	return nil
}

// Directory is the owner store: tier lookup and usage persistence, backed
// by a single owners.jsonl table. It implements assets.OwnerDirectory.
type Directory struct {
	table *jsonl.Table[*Owner]
}

// NewDirectory opens the owner table under dataDir.
func NewDirectory(dataDir string) (*Directory, error) {
	table, err := jsonl.Open[*Owner](filepath.Join(dataDir, "owners.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open owner table: %w", err)
	}
	return &Directory{table: table}, nil
}

// Create registers a new owner. A zero ID is assigned.
func (d *Directory) Create(o *Owner) (*Owner, error) {
	out := o.Clone()
	if out.ID.IsZero() {
		out.ID = ksid.NewID()
	}
	if out.Created.IsZero() {
		out.Created = time.Now().UTC()
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if err := d.table.Append(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns an owner by ID.
func (d *Directory) Get(id ksid.ID) (*Owner, error) {
	o, ok := d.table.Get(id)
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", id, models.ErrNotFound)
	}
	return o, nil
}

// Iter iterates over all owners.
func (d *Directory) Iter() iter.Seq[*Owner] {
	return d.table.All()
}

// Quotas returns the owner-level quota layer and whether the owner is on a
// capped tier. Uncapped owners are never subject to any storage limit, not
// even the server default.
func (d *Directory) Quotas(id ksid.ID) (storage.Quotas, bool, error) {
	o, err := d.Get(id)
	if err != nil {
		return storage.Quotas{}, false, err
	}
	if o.Tier == TierUncapped {
		return storage.Quotas{}, false, nil
	}
	return o.Quotas, true, nil
}

// Usage returns the owner's recorded cumulative bytes used.
func (d *Directory) Usage(id ksid.ID) (int64, error) {
	o, err := d.Get(id)
	if err != nil {
		return 0, err
	}
	return o.BytesUsed, nil
}

// SetUsage records a new cumulative byte total for the owner.
func (d *Directory) SetUsage(id ksid.ID, bytes int64) error {
	o, err := d.Get(id)
	if err != nil {
		return err
	}
	o.BytesUsed = bytes
	return d.table.Update(o)
}
