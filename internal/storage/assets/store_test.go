package assets

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/ksid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	return s
}

func TestStore_Store(t *testing.T) {
	t.Run("dedup idempotence", func(t *testing.T) {
		s := newTestStore(t)
		owner := ksid.NewID()
		raw := []byte("same bytes both times")

		first, err := s.Store(owner, raw)
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		if !first.New || first.BytesAdded <= 0 {
			t.Errorf("first store: New=%v BytesAdded=%d, want new with bytes", first.New, first.BytesAdded)
		}

		second, err := s.Store(owner, raw)
		if err != nil {
			t.Fatalf("second Store error: %v", err)
		}
		if second.Filename != first.Filename {
			t.Errorf("filenames differ: %q vs %q", first.Filename, second.Filename)
		}
		if second.New || second.BytesAdded != 0 {
			t.Errorf("second store: New=%v BytesAdded=%d, want dedup hit", second.New, second.BytesAdded)
		}
	})

	t.Run("cross-owner independence", func(t *testing.T) {
		s := newTestStore(t)
		a, b := ksid.NewID(), ksid.NewID()
		raw := []byte("identical content")

		ra, err := s.Store(a, raw)
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		rb, err := s.Store(b, raw)
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		if ra.Filename == rb.Filename {
			t.Error("different owners produced the same filename")
		}
		if !ra.New || !rb.New {
			t.Error("both stores should be new")
		}
		if ra.BytesAdded != rb.BytesAdded {
			t.Errorf("BytesAdded differ: %d vs %d", ra.BytesAdded, rb.BytesAdded)
		}
	})

	t.Run("empty input rejected", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Store(ksid.NewID(), nil); err == nil {
			t.Error("expected error for empty data")
		}
	})

	t.Run("concurrent identical uploads", func(t *testing.T) {
		s := newTestStore(t)
		owner := ksid.NewID()
		raw := []byte("raced content")

		results := make(chan StoreResult, 8)
		for range 8 {
			go func() {
				r, err := s.Store(owner, raw)
				if err != nil {
					t.Errorf("Store error: %v", err)
				}
				results <- r
			}()
		}
		var totalAdded int64
		var name string
		for range 8 {
			r := <-results
			totalAdded += r.BytesAdded
			if name == "" {
				name = r.Filename
			} else if r.Filename != name {
				t.Errorf("filenames diverged: %q vs %q", name, r.Filename)
			}
		}
		size, err := s.Size(name)
		if err != nil {
			t.Fatalf("Size error: %v", err)
		}
		if totalAdded != size {
			t.Errorf("total BytesAdded = %d, want exactly one write of %d", totalAdded, size)
		}
	})
}

func TestStore_ReadSizeDelete(t *testing.T) {
	s := newTestStore(t)
	owner := ksid.NewID()
	raw := []byte("opaque payload")

	res, err := s.Store(owner, raw)
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}

	data, err := s.Read(res.Filename)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Error("Read returned different bytes")
	}

	size, err := s.Size(res.Filename)
	if err != nil {
		t.Fatalf("Size error: %v", err)
	}
	if size != res.BytesAdded {
		t.Errorf("Size = %d, want %d", size, res.BytesAdded)
	}

	t.Run("delete requires ownership", func(t *testing.T) {
		if _, err := s.Delete(ksid.NewID(), res.Filename); err == nil {
			t.Error("expected ownership error")
		}
	})

	freed, err := s.Delete(owner, res.Filename)
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if freed != size {
		t.Errorf("freed = %d, want %d", freed, size)
	}
	// Deleting again frees nothing and is not an error.
	freed, err = s.Delete(owner, res.Filename)
	if err != nil {
		t.Errorf("second Delete error: %v", err)
	}
	if freed != 0 {
		t.Errorf("second Delete freed %d, want 0", freed)
	}
}

func TestStore_IterOwner(t *testing.T) {
	s := newTestStore(t)
	a, b := ksid.NewID(), ksid.NewID()

	var wantTotal int64
	for _, payload := range []string{"one", "two", "three"} {
		res, err := s.Store(a, []byte(payload))
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		wantTotal += res.BytesAdded
	}
	if _, err := s.Store(b, []byte("other owner")); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	count := 0
	for name, size := range s.IterOwner(a) {
		blobOwner, _, _, err := ParseBlobName(name)
		if err != nil {
			t.Errorf("invalid blob name %q: %v", name, err)
		}
		if blobOwner != a {
			t.Errorf("blob %q belongs to %v, want %v", name, blobOwner, a)
		}
		if size <= 0 {
			t.Errorf("blob %q has size %d", name, size)
		}
		count++
	}
	if count != 3 {
		t.Errorf("iterated %d blobs, want 3", count)
	}
	if got := s.TotalOwnerBytes(a); got != wantTotal {
		t.Errorf("TotalOwnerBytes = %d, want %d", got, wantTotal)
	}
}

func TestParseBlobName(t *testing.T) {
	owner := ksid.NewID()
	hash := strings.Repeat("ab", 32)

	t.Run("round trip", func(t *testing.T) {
		name := BlobName(owner, hash, "jpg")
		gotOwner, gotHash, gotExt, err := ParseBlobName(name)
		if err != nil {
			t.Fatalf("ParseBlobName error: %v", err)
		}
		if gotOwner != owner || gotHash != hash || gotExt != "jpg" {
			t.Errorf("ParseBlobName = (%v, %s, %s)", gotOwner, gotHash, gotExt)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name     string
			filename string
		}{
			{"empty", ""},
			{"no extension", owner.String() + "_" + hash},
			{"no separator", hash + ".png"},
			{"short hash", owner.String() + "_abcd.png"},
			{"non-hex hash", owner.String() + "_" + strings.Repeat("zz", 32) + ".png"},
			{"bad owner", "!!!_" + hash + ".png"},
			{"traversal", "../" + hash + ".png"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, _, _, err := ParseBlobName(tt.filename); err == nil {
					t.Errorf("expected error for %q", tt.filename)
				}
			})
		}
	})
}

func TestStore_CleanupTmp(t *testing.T) {
	s := newTestStore(t)
	stale := filepath.Join(s.Root(), "tmp", "stale.tmp")
	if err := os.WriteFile(stale, []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if err := s.CleanupTmp(); err != nil {
		t.Fatalf("CleanupTmp error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp file still present")
	}
}
