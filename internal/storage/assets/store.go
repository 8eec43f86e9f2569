package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maruel/ksid"
)

// URLPrefix is the stable read-only URL prefix mapping 1:1 to blob filenames.
const URLPrefix = "/assets/"

// extCandidates are the extensions a stored blob can have; dedup lookups
// probe all of them. The set is closed: normalization only ever produces
// these.
var extCandidates = []string{"jpg", "png", "gif", "webp", "bmp", "svg", "bin"}

var (
	errAssetDataEmpty  = errors.New("asset data cannot be empty")
	errInvalidFilename = errors.New("invalid asset filename")
)

// StoreResult reports the outcome of storing raw bytes.
type StoreResult struct {
	Filename   string
	BytesAdded int64 // 0 on a dedup hit
	New        bool
}

// Store maps (owner, content hash) to a physical blob in a flat directory.
//
// Blob filenames are {owner}_{sha256hex}.{ext}; at most one physical blob
// exists per (owner, hash) key. Writes go through a temp file in
// <root>/tmp and are renamed into place; the temp file is removed on every
// failure path. A per-owner mutex serializes the dedup-check-then-write
// sequence so two concurrent uploads of the same new hash cannot both write.
type Store struct {
	root string
	norm *Normalizer

	mu    sync.Mutex
	locks map[ksid.ID]*sync.Mutex
}

// NewStore creates the blob root (and its tmp subdirectory) if needed.
func NewStore(root string, norm *Normalizer) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset root: %w", err)
	}
	if norm == nil {
		norm = NewNormalizer()
	}
	return &Store{root: root, norm: norm, locks: map[ksid.ID]*sync.Mutex{}}, nil
}

// Root returns the blob root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) ownerLock(owner ksid.ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[owner]
	if !ok {
		l = &sync.Mutex{}
		s.locks[owner] = l
	}
	return l
}

// Store persists raw bytes for an owner, deduplicating by content hash.
//
// The dedup check always precedes any write: if a blob already exists for
// (owner, hash) under any known extension, its filename is returned with
// BytesAdded 0. Otherwise the bytes are normalized and written, and the new
// filename and its on-disk size are returned.
func (s *Store) Store(owner ksid.ID, raw []byte) (StoreResult, error) {
	if len(raw) == 0 {
		return StoreResult{}, errAssetDataEmpty
	}

	l := s.ownerLock(owner)
	l.Lock()
	defer l.Unlock()

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	if name, ok := s.ExistsForOwner(owner, hash); ok {
		return StoreResult{Filename: name, BytesAdded: 0, New: false}, nil
	}

	norm, err := s.norm.Normalize(raw)
	if err != nil {
		return StoreResult{}, err
	}
	name := BlobName(owner, norm.Hash, norm.Ext)
	if err := s.writeBlob(name, norm.Data); err != nil {
		return StoreResult{}, err
	}
	return StoreResult{Filename: name, BytesAdded: int64(len(norm.Data)), New: true}, nil
}

// writeBlob writes data to a temp file and renames it into place.
func (s *Store) writeBlob(name string, data []byte) error {
	f, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write blob: %w", err), f.Close(), os.Remove(tmpPath))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, filepath.Join(s.root, name)); err != nil {
		return errors.Join(fmt.Errorf("failed to rename blob into place: %w", err), os.Remove(tmpPath))
	}
	return nil
}

// ExistsForOwner returns the filename of the blob stored under
// (owner, hash), probing every known extension.
func (s *Store) ExistsForOwner(owner ksid.ID, hash string) (string, bool) {
	for _, ext := range extCandidates {
		name := BlobName(owner, hash, ext)
		if _, err := os.Stat(filepath.Join(s.root, name)); err == nil {
			return name, true
		}
	}
	return "", false
}

// Read returns the stored bytes of a blob by filename.
func (s *Store) Read(filename string) ([]byte, error) {
	if _, _, _, err := ParseBlobName(filename); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", filename, err)
	}
	return data, nil
}

// Size returns the on-disk size of a blob by filename.
func (s *Store) Size(filename string) (int64, error) {
	if _, _, _, err := ParseBlobName(filename); err != nil {
		return 0, err
	}
	info, err := os.Stat(filepath.Join(s.root, filename))
	if err != nil {
		return 0, fmt.Errorf("failed to stat asset %s: %w", filename, err)
	}
	return info.Size(), nil
}

// Delete removes a blob and returns the bytes freed.
// Deleting a missing blob is not an error and frees zero bytes.
func (s *Store) Delete(owner ksid.ID, filename string) (int64, error) {
	blobOwner, _, _, err := ParseBlobName(filename)
	if err != nil {
		return 0, err
	}
	if blobOwner != owner {
		return 0, fmt.Errorf("asset %s does not belong to owner %s", filename, owner)
	}
	path := filepath.Join(s.root, filename)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat asset %s: %w", filename, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to delete asset %s: %w", filename, err)
	}
	return info.Size(), nil
}

// IterOwner iterates over all blobs belonging to an owner, yielding
// filename and on-disk size.
func (s *Store) IterOwner(owner ksid.ID) iter.Seq2[string, int64] {
	prefix := owner.String() + "_"
	return func(yield func(string, int64) bool) {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
				continue
			}
			if _, _, _, err := ParseBlobName(entry.Name()); err != nil {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if !yield(entry.Name(), info.Size()) {
				return
			}
		}
	}
}

// TotalOwnerBytes sums the on-disk sizes of an owner's blobs.
func (s *Store) TotalOwnerBytes(owner ksid.ID) int64 {
	var total int64
	for _, size := range s.IterOwner(owner) {
		total += size
	}
	return total
}

// CleanupTmp removes stale temp files left behind by crashed writes.
func (s *Store) CleanupTmp() error {
	dir := filepath.Join(s.root, "tmp")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tmp directory: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove temp file %s: %w", entry.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// BlobName returns the bit-exact blob filename for an owner and hash.
func BlobName(owner ksid.ID, hash, ext string) string {
	return owner.String() + "_" + hash + "." + ext
}

// URL returns the stable URL for a blob filename.
func URL(filename string) string {
	return URLPrefix + filename
}

// ParseBlobName splits a blob filename into owner, hash, and extension.
//
// The hash is always 64 hex characters and never contains an underscore, so
// splitting at the last underscore before the extension is unambiguous.
func ParseBlobName(filename string) (owner ksid.ID, hash, ext string, err error) {
	dot := strings.LastIndexByte(filename, '.')
	if dot < 0 || dot == len(filename)-1 {
		return 0, "", "", errInvalidFilename
	}
	ext = filename[dot+1:]
	stem := filename[:dot]
	sep := strings.LastIndexByte(stem, '_')
	if sep <= 0 {
		return 0, "", "", errInvalidFilename
	}
	hash = stem[sep+1:]
	if len(hash) != 64 || !isHex(hash) {
		return 0, "", "", errInvalidFilename
	}
	owner, perr := ksid.Parse(stem[:sep])
	if perr != nil {
		return 0, "", "", errInvalidFilename
	}
	return owner, hash, ext, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
