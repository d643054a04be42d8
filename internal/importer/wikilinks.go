package importer

import (
	"regexp"
	"strings"
)

// wikiLinkRe matches [[target]] and [[target|alias]].
var wikiLinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// WikiLinks returns the distinct [[link]] targets in body, in order of first
// appearance. Targets compare case-insensitively.
func WikiLinks(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range wikiLinkRe.FindAllStringSubmatch(body, -1) {
		target := strings.TrimSpace(m[1])
		// [[note#heading]] points at note.
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = strings.TrimSpace(target[:i])
		}
		key := strings.ToLower(target)
		if target == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, target)
	}
	return out
}

// StripWikiLinks replaces each link with its alias, or its target when it
// has none.
func StripWikiLinks(body string) string {
	return wikiLinkRe.ReplaceAllStringFunc(body, func(match string) string {
		m := wikiLinkRe.FindStringSubmatch(match)
		if alias := strings.TrimSpace(m[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(m[1])
	})
}
