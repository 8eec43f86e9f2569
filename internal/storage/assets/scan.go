package assets

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/paperbase/paperbase/internal/models"
)

// refPattern matches asset URLs inside arbitrary text, including text that is
// an escaped JSON serialization of structured content. The filename grammar
// mirrors BlobName: ksid owner, 64-hex hash, known extension.
var refPattern = regexp.MustCompile(`/assets/([0-9A-V]+_[0-9a-f]{64}\.(?:jpg|png|gif|webp|bmp|svg|bin))`)

// srcAttrs are the markup attributes that can carry an asset URL.
var srcAttrs = map[string]bool{"src": true, "href": true, "poster": true, "data-src": true}

// ScanReferences extracts the set of asset filenames referenced by a content
// value. It is pure: the content is never modified.
//
// Two passes run over text-bearing content and their results are unioned: a
// markup pass that parses HTML and collects src-like attributes under the
// asset URL prefix, and a textual pass that pattern-matches the stringified
// value. The passes are complementary: the markup pass catches references the
// pattern would mangle inside attribute encoding, and the textual pass
// catches references inside serialized structured content that no parser
// sees.
func ScanReferences(c models.Content) map[string]struct{} {
	refs := map[string]struct{}{}
	switch c.Kind {
	case models.KindText, models.KindRich:
		scanMarkup(c.Text, refs)
		scanText(c.Text, refs)
	case models.KindTree:
		data, err := json.Marshal(c.Tree)
		if err == nil {
			scanText(string(data), refs)
		}
	}
	return refs
}

// scanText collects asset filenames from s by pattern matching.
func scanText(s string, refs map[string]struct{}) {
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		refs[m[1]] = struct{}{}
	}
}

// scanMarkup parses s as an HTML fragment and collects asset filenames from
// src-like attributes. Values that do not look like markup are skipped.
func scanMarkup(s string, refs map[string]struct{}) {
	if !strings.Contains(s, "<") {
		return
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if !srcAttrs[attr.Key] {
					continue
				}
				v := attr.Val
				if !strings.HasPrefix(v, URLPrefix) {
					continue
				}
				name := v[len(URLPrefix):]
				if _, _, _, err := ParseBlobName(name); err == nil {
					refs[name] = struct{}{}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
}
