package content

import "errors"

var (
	errContainerNotFound = errors.New("container not found")
	errOwnerRequired     = errors.New("owner ID is required")
)

// IsNotFound reports whether err is the repository's not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, errContainerNotFound)
}
