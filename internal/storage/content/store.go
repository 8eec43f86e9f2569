// Package content implements the filesystem container repository.
//
// Storage model: each container is an ID-named directory under its owner's
// root, nested inside its parent's directory. The directory holds a single
// container.json with the scalar fields and the content payload. Graph
// containers additionally keep their node/edge/attachment tables in the same
// directory (see the graphdb package).
package content

import (
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/models"
)

const containerFile = "container.json"

// FileStore is the container repository over a directory tree.
type FileStore struct {
	root string

	mu    sync.RWMutex
	cache map[ksid.ID]ksid.ID // container ID -> parent ID, per process
}

// NewFileStore initializes a FileStore rooted at root.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create container root: %w", err)
	}
	return &FileStore{root: root, cache: map[ksid.ID]ksid.ID{}}, nil
}

func (fs *FileStore) ownerDir(owner ksid.ID) string {
	return filepath.Join(fs.root, owner.String())
}

// relativeDir builds the owner-relative path for a container from its parent
// chain.
func (fs *FileStore) relativeDir(id, parentID ksid.ID) string {
	var parts []string
	for p := parentID; !p.IsZero(); p = fs.getParent(p) {
		parts = append(parts, p.String())
	}
	slices.Reverse(parts)
	parts = append(parts, id.String())
	return filepath.Join(parts...)
}

// ContainerDir returns the absolute directory of a container.
func (fs *FileStore) ContainerDir(owner, id ksid.ID) string {
	return filepath.Join(fs.ownerDir(owner), fs.relativeDir(id, fs.getParent(id)))
}

func (fs *FileStore) getParent(id ksid.ID) ksid.ID {
	fs.mu.RLock()
	parent, ok := fs.cache[id]
	fs.mu.RUnlock()
	if ok {
		return parent
	}
	// Cold cache: rebuild from disk. Walks every owner, which is fine for
	// the per-process cache miss path.
	fs.refreshCache()
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.cache[id]
}

func (fs *FileStore) setParent(id, parentID ksid.ID) {
	fs.mu.Lock()
	fs.cache[id] = parentID
	fs.mu.Unlock()
}

func (fs *FileStore) refreshCache() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.cache = map[ksid.ID]ksid.ID{}
	owners, err := os.ReadDir(fs.root)
	if err != nil {
		return
	}
	for _, entry := range owners {
		if !entry.IsDir() {
			continue
		}
		fs.walkForCache(filepath.Join(fs.root, entry.Name()), 0)
	}
}

func (fs *FileStore) walkForCache(dir string, parentID ksid.ID) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := ksid.Parse(entry.Name())
		if err != nil || id.IsZero() {
			continue
		}
		fs.cache[id] = parentID
		fs.walkForCache(filepath.Join(dir, entry.Name()), id)
	}
}

// Exists checks whether a container exists.
func (fs *FileStore) Exists(owner, id ksid.ID) bool {
	if id.IsZero() {
		return false
	}
	_, err := os.Stat(filepath.Join(fs.ContainerDir(owner, id), containerFile))
	return err == nil
}

// Create writes a new container. A zero ID is assigned; timestamps are set.
func (fs *FileStore) Create(c *models.Container) (*models.Container, error) {
	if c.OwnerID.IsZero() {
		return nil, errOwnerRequired
	}
	out := c.Clone()
	if out.ID.IsZero() {
		out.ID = ksid.NewID()
	}
	now := time.Now().UTC()
	out.Created = now
	out.Modified = now

	// The new ID is not in the parent cache yet, so resolve the directory
	// from the declared parent. The cache is seeded only once the write
	// succeeded.
	dir := filepath.Join(fs.ownerDir(out.OwnerID), fs.relativeDir(out.ID, out.ParentID))
	if err := fs.writeTo(dir, out); err != nil {
		return nil, err
	}
	fs.setParent(out.ID, out.ParentID)
	return out, nil
}

// Read loads a container by ID.
func (fs *FileStore) Read(owner, id ksid.ID) (*models.Container, error) {
	if id.IsZero() {
		return nil, errContainerNotFound
	}
	data, err := os.ReadFile(filepath.Join(fs.ContainerDir(owner, id), containerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errContainerNotFound
		}
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	var c models.Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse container %s: %w", id, err)
	}
	return &c, nil
}

// Update rewrites an existing container's scalar fields and content.
func (fs *FileStore) Update(c *models.Container) (*models.Container, error) {
	if !fs.Exists(c.OwnerID, c.ID) {
		return nil, errContainerNotFound
	}
	out := c.Clone()
	out.Modified = time.Now().UTC()
	if err := fs.write(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *FileStore) write(c *models.Container) error {
	return fs.writeTo(fs.ContainerDir(c.OwnerID, c.ID), c)
}

func (fs *FileStore) writeTo(dir string, c *models.Container) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create container directory: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal container: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, containerFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	return nil
}

// Delete removes a container and its whole subtree.
func (fs *FileStore) Delete(owner, id ksid.ID) error {
	if id.IsZero() {
		return errContainerNotFound
	}
	dir := fs.ContainerDir(owner, id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errContainerNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	fs.mu.Lock()
	delete(fs.cache, id)
	fs.mu.Unlock()
	return nil
}

// Children lists a container's direct children. A zero id lists the owner's
// top-level containers.
func (fs *FileStore) Children(owner, id ksid.ID) ([]*models.Container, error) {
	dir := fs.ownerDir(owner)
	if !id.IsZero() {
		dir = fs.ContainerDir(owner, id)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read container directory: %w", err)
	}
	var out []*models.Container
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		childID, err := ksid.Parse(entry.Name())
		if err != nil || childID.IsZero() {
			continue
		}
		c, err := fs.Read(owner, childID)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// IterContainers iterates over every live container of an owner, parents
// before children.
func (fs *FileStore) IterContainers(owner ksid.ID) (iter.Seq[*models.Container], error) {
	return func(yield func(*models.Container) bool) {
		fs.iterRecursive(owner, fs.ownerDir(owner), yield)
	}, nil
}

func (fs *FileStore) iterRecursive(owner ksid.ID, dir string, yield func(*models.Container) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := ksid.Parse(entry.Name())
		if err != nil || id.IsZero() {
			continue
		}
		if c, err := fs.Read(owner, id); err == nil {
			if !yield(c) {
				return false
			}
		}
		if !fs.iterRecursive(owner, filepath.Join(dir, entry.Name()), yield) {
			return false
		}
	}
	return true
}

// CountContainers returns the number of live containers for an owner.
func (fs *FileStore) CountContainers(owner ksid.ID) (int, error) {
	it, err := fs.IterContainers(owner)
	if err != nil {
		return 0, err
	}
	n := 0
	for range it {
		n++
	}
	return n, nil
}

// ContentBytes sums the chargeable content sizes of an owner's containers.
func (fs *FileStore) ContentBytes(owner ksid.ID) (int64, error) {
	it, err := fs.IterContainers(owner)
	if err != nil {
		return 0, err
	}
	var total int64
	for c := range it {
		total += c.Content.ByteSize()
	}
	return total, nil
}
