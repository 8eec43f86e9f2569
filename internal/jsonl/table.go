// Package jsonl implements append-friendly JSONL tables with in-memory caching.
//
// Each table is a single .jsonl file, one JSON object per line, fully loaded
// at open time. Rows are keyed by a ksid.ID primary key. Mutations rewrite or
// append to the backing file synchronously; there is no write-ahead buffering.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/maruel/ksid"
)

// Row is implemented by table row types.
type Row[T any] interface {
	// Clone returns a deep copy so cached rows never escape by reference.
	Clone() T
	// GetID returns the row's primary key.
	GetID() ksid.ID
}

// Table stores rows of type T in a JSONL file with an in-memory cache.
type Table[T Row[T]] struct {
	path string
	mu   sync.RWMutex
	rows []T
	byID map[ksid.ID]int
}

// Open loads a table from path, creating the parent directory if needed.
// A missing file is an empty table.
func Open[T Row[T]](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	t := &Table[T]{path: path, byID: map[ksid.ID]int{}}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table[T]) load() error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		t.byID[row.GetID()] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}
	return nil
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns a clone of the row with the given ID, or the zero value and
// false if not found.
func (t *Table[T]) Get(id ksid.ID) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return t.rows[i].Clone(), true
}

// All returns an iterator over clones of all rows in insertion order.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// Append adds a new row and persists it. The row's ID must be unused.
func (t *Table[T]) Append(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := row.GetID()
	if _, ok := t.byID[id]; ok {
		return fmt.Errorf("duplicate row id %s in %s", id, t.path)
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	t.byID[id] = len(t.rows)
	t.rows = append(t.rows, row.Clone())
	return nil
}

// Update replaces the row with the same ID and rewrites the file.
func (t *Table[T]) Update(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.byID[row.GetID()]
	if !ok {
		return fmt.Errorf("row %s not found in %s", row.GetID(), t.path)
	}
	prev := t.rows[i]
	t.rows[i] = row.Clone()
	if err := t.rewrite(); err != nil {
		t.rows[i] = prev
		return err
	}
	return nil
}

// Delete removes the row with the given ID and rewrites the file.
// Deleting a missing row is not an error.
func (t *Table[T]) Delete(id ksid.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.byID[id]
	if !ok {
		return nil
	}
	rows := make([]T, 0, len(t.rows)-1)
	rows = append(rows, t.rows[:i]...)
	rows = append(rows, t.rows[i+1:]...)
	prev := t.rows
	t.rows = rows
	delete(t.byID, id)
	for j := i; j < len(t.rows); j++ {
		t.byID[t.rows[j].GetID()] = j
	}
	if err := t.rewrite(); err != nil {
		t.rows = prev
		t.reindex()
		return err
	}
	return nil
}

// rewrite persists all rows, replacing the file. Caller holds the lock.
func (t *Table[T]) rewrite() error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (t *Table[T]) reindex() {
	t.byID = make(map[ksid.ID]int, len(t.rows))
	for i, row := range t.rows {
		t.byID[row.GetID()] = i
	}
}
