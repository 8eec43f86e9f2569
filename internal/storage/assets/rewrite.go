package assets

import (
	"strings"

	"github.com/paperbase/paperbase/internal/models"
)

// RewriteReferences returns content with every occurrence of each old asset
// filename replaced by its mapped new filename. The content shape is
// preserved; an empty mapping returns the value unchanged.
//
// Replacement is naive substring substitution. Filenames embed a 64-hex
// content hash, which makes accidental collisions with surrounding text
// implausible; this is an accepted approximation, not a structural
// guarantee.
func RewriteReferences(c models.Content, mapping map[string]string) models.Content {
	if len(mapping) == 0 {
		return c
	}
	pairs := make([]string, 0, len(mapping)*2)
	for from, to := range mapping {
		if from == "" || from == to {
			continue
		}
		pairs = append(pairs, from, to)
	}
	if len(pairs) == 0 {
		return c
	}
	r := strings.NewReplacer(pairs...)

	out := c
	switch c.Kind {
	case models.KindText, models.KindRich:
		out.Text = r.Replace(c.Text)
	case models.KindTree:
		out.Tree = rewriteTree(c.Tree, r)
	}
	return out
}

// rewriteTree applies the replacer to every string in a JSON-shaped tree,
// keys included: serialized sub-documents can hide references anywhere.
func rewriteTree(v any, r *strings.Replacer) any {
	switch t := v.(type) {
	case string:
		return r.Replace(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			m[r.Replace(k)] = rewriteTree(child, r)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, child := range t {
			s[i] = rewriteTree(child, r)
		}
		return s
	default:
		return v
	}
}
