// Defines shared storage quotas applied at server and owner levels.

// Package storage holds types shared by the persistence services.
package storage

import "errors"

// Quotas defines per-owner storage limits shared by the server and owner
// layers. A zero value means "no limit at this layer" (inherit from the
// other layer). An owner whose effective MaxStorageBytes is zero is on an
// uncapped tier.
type Quotas struct {
	// MaxStorageBytes limits cumulative content and asset bytes per owner.
	MaxStorageBytes int64 `json:"max_storage_bytes" yaml:"max_storage_bytes"`

	// MaxAssetSizeBytes limits the size of a single uploaded asset.
	MaxAssetSizeBytes int64 `json:"max_asset_size_bytes" yaml:"max_asset_size_bytes"`

	// MaxContainers limits the number of containers per owner.
	MaxContainers int `json:"max_containers" yaml:"max_containers"`
}

// Validate checks that all quota values are non-negative.
func (q *Quotas) Validate() error {
	if q.MaxStorageBytes < 0 {
		return errors.New("max_storage_bytes must be non-negative")
	}
	if q.MaxAssetSizeBytes < 0 {
		return errors.New("max_asset_size_bytes must be non-negative")
	}
	if q.MaxContainers < 0 {
		return errors.New("max_containers must be non-negative")
	}
	return nil
}

// DefaultQuotas returns the server-level quotas for capped-tier owners.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxStorageBytes:   50 * 1024 * 1024, // 50 MiB
		MaxAssetSizeBytes: 10 * 1024 * 1024, // 10 MiB
		MaxContainers:     5000,
	}
}

// EffectiveQuotas computes the effective quotas by taking the minimum
// positive value across the server and owner layers for each field.
// A zero value at any layer means "no limit at this layer" and is ignored.
// If both layers are zero, the result is zero (unlimited).
func EffectiveQuotas(server, owner Quotas) Quotas {
	return Quotas{
		MaxStorageBytes:   minPositive(server.MaxStorageBytes, owner.MaxStorageBytes),
		MaxAssetSizeBytes: minPositive(server.MaxAssetSizeBytes, owner.MaxAssetSizeBytes),
		MaxContainers:     int(minPositive(int64(server.MaxContainers), int64(owner.MaxContainers))),
	}
}

// minPositive returns the minimum positive value among the arguments.
// Zero values are ignored. If all are zero, returns 0.
func minPositive(vals ...int64) int64 {
	var result int64
	for _, v := range vals {
		if v > 0 && (result == 0 || v < result) {
			result = v
		}
	}
	return result
}
