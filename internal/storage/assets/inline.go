package assets

import (
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maruel/ksid"
	"github.com/paperbase/paperbase/internal/models"
)

// dataURIPattern matches base64 data URIs embedded in content. The payload
// must be contiguous; a padding character ends it.
var dataURIPattern = regexp.MustCompile(`data:([a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/]+={0,2})`)

// InlineResult reports the outcome of an inline persistence pass.
type InlineResult struct {
	Content    models.Content
	BytesAdded int64 // newly stored bytes only; dedup hits contribute zero
	Persisted  int   // occurrences replaced with an asset reference
	Skipped    int   // occurrences left unchanged after a local decode failure
}

// PersistInline finds embedded base64 data URIs anywhere in the content and
// persists each one via the store for the given owner, replacing the URI
// with the stored asset's URL.
//
// Decode failures are recovered locally: the occurrence is left unchanged,
// counted in Skipped, and the pass continues. A store write failure is a
// real storage fault and aborts the pass with an error, since continuing
// would silently drop primary data.
func PersistInline(store *Store, owner ksid.ID, c models.Content) (InlineResult, error) {
	res := InlineResult{Content: c}
	switch c.Kind {
	case models.KindText, models.KindRich:
		text, err := persistInString(store, owner, c.Text, &res)
		if err != nil {
			return res, err
		}
		res.Content.Text = text
	case models.KindTree:
		tree, err := persistInTree(store, owner, c.Tree, &res)
		if err != nil {
			return res, err
		}
		res.Content.Tree = tree
	}
	return res, nil
}

func persistInTree(store *Store, owner ksid.ID, v any, res *InlineResult) (any, error) {
	switch t := v.(type) {
	case string:
		return persistInString(store, owner, t, res)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			out, err := persistInTree(store, owner, child, res)
			if err != nil {
				return nil, err
			}
			m[k] = out
		}
		return m, nil
	case []any:
		s := make([]any, len(t))
		for i, child := range t {
			out, err := persistInTree(store, owner, child, res)
			if err != nil {
				return nil, err
			}
			s[i] = out
		}
		return s, nil
	default:
		return v, nil
	}
}

func persistInString(store *Store, owner ksid.ID, s string, res *InlineResult) (string, error) {
	if !strings.Contains(s, ";base64,") {
		return s, nil
	}
	var storeErr error
	out := dataURIPattern.ReplaceAllStringFunc(s, func(match string) string {
		if storeErr != nil {
			return match
		}
		sub := dataURIPattern.FindStringSubmatch(match)
		raw, err := base64.StdEncoding.DecodeString(sub[2])
		if err != nil || len(raw) == 0 {
			slog.Debug("skipping undecodable inline asset", "media_type", sub[1], "error", err)
			res.Skipped++
			return match
		}
		sr, err := store.Store(owner, raw)
		if err != nil {
			storeErr = err
			return match
		}
		res.BytesAdded += sr.BytesAdded
		res.Persisted++
		return URL(sr.Filename)
	})
	if storeErr != nil {
		return s, storeErr
	}
	return out, nil
}
