package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a container, asset, or owner does not exist.
var ErrNotFound = errors.New("not found")

// ErrContainerQuotaExceeded rejects an operation that would push an owner
// past its container count limit.
var ErrContainerQuotaExceeded = errors.New("container quota exceeded")

// QuotaExceededError rejects an operation whose projected storage usage would
// exceed a capped owner's limit. It is raised before any asset write for that
// owner; usage is unchanged when it is returned.
type QuotaExceededError struct {
	OwnerID   string
	Required  int64 // bytes the operation would add
	Available int64 // bytes remaining under the cap
}

// Error implements error.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded for owner %s: need %d bytes, %d available", e.OwnerID, e.Required, e.Available)
}

// IsQuotaExceeded reports whether err is (or wraps) a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
