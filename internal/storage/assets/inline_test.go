package assets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/models"
)

func dataURI(payload []byte) string {
	return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(payload)
}

func TestPersistInline(t *testing.T) {
	t.Run("rich text", func(t *testing.T) {
		s := newTestStore(t)
		owner := ksid.NewID()
		c := models.RichContent(`<img src="` + dataURI([]byte("inline bytes")) + `">`)

		res, err := PersistInline(s, owner, c)
		if err != nil {
			t.Fatalf("PersistInline error: %v", err)
		}
		if res.Persisted != 1 || res.Skipped != 0 {
			t.Errorf("Persisted=%d Skipped=%d, want 1/0", res.Persisted, res.Skipped)
		}
		if res.BytesAdded <= 0 {
			t.Errorf("BytesAdded = %d, want > 0", res.BytesAdded)
		}
		if strings.Contains(res.Content.Text, "base64") {
			t.Errorf("data URI survived: %q", res.Content.Text)
		}
		refs := ScanReferences(res.Content)
		if len(refs) != 1 {
			t.Fatalf("got %d refs, want 1", len(refs))
		}
		for name := range refs {
			data, err := s.Read(name)
			if err != nil {
				t.Fatalf("Read error: %v", err)
			}
			if string(data) != "inline bytes" {
				t.Errorf("stored bytes = %q", data)
			}
		}
	})

	t.Run("repeated payload charged once", func(t *testing.T) {
		s := newTestStore(t)
		uri := dataURI([]byte("same payload"))
		c := models.TextContent(uri + " " + uri)

		res, err := PersistInline(s, ksid.NewID(), c)
		if err != nil {
			t.Fatalf("PersistInline error: %v", err)
		}
		if res.Persisted != 2 {
			t.Errorf("Persisted = %d, want 2", res.Persisted)
		}
		size, err := s.Size(firstRef(t, res.Content))
		if err != nil {
			t.Fatalf("Size error: %v", err)
		}
		if res.BytesAdded != size {
			t.Errorf("BytesAdded = %d, want one stored copy of %d", res.BytesAdded, size)
		}
	})

	t.Run("undecodable payload skipped", func(t *testing.T) {
		s := newTestStore(t)
		c := models.TextContent("data:image/png;base64,AAAAA")

		res, err := PersistInline(s, ksid.NewID(), c)
		if err != nil {
			t.Fatalf("PersistInline error: %v", err)
		}
		if res.Skipped != 1 || res.Persisted != 0 {
			t.Errorf("Skipped=%d Persisted=%d, want 1/0", res.Skipped, res.Persisted)
		}
		if res.Content.Text != c.Text {
			t.Error("undecodable occurrence was modified")
		}
	})

	t.Run("tree content", func(t *testing.T) {
		s := newTestStore(t)
		tree := map[string]any{
			"cells": []any{
				map[string]any{"image": dataURI([]byte("cell image"))},
			},
		}

		res, err := PersistInline(s, ksid.NewID(), models.TreeContent(tree))
		if err != nil {
			t.Fatalf("PersistInline error: %v", err)
		}
		if res.Persisted != 1 {
			t.Errorf("Persisted = %d, want 1", res.Persisted)
		}
		cell := res.Content.Tree.(map[string]any)["cells"].([]any)[0].(map[string]any)
		img := cell["image"].(string)
		if !strings.HasPrefix(img, URLPrefix) {
			t.Errorf("image = %q, want asset URL", img)
		}
	})

	t.Run("content without data uris unchanged", func(t *testing.T) {
		s := newTestStore(t)
		c := models.TextContent("nothing embedded here")
		res, err := PersistInline(s, ksid.NewID(), c)
		if err != nil {
			t.Fatalf("PersistInline error: %v", err)
		}
		if res.Persisted != 0 || res.BytesAdded != 0 {
			t.Errorf("Persisted=%d BytesAdded=%d, want 0/0", res.Persisted, res.BytesAdded)
		}
	})
}

func firstRef(t *testing.T, c models.Content) string {
	t.Helper()
	for name := range ScanReferences(c) {
		return name
	}
	t.Fatal("no references in content")
	return ""
}
