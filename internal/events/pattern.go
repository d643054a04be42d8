package events

import "strings"

// Match reports whether eventType matches pattern. Patterns are dot
// separated; a "*" segment matches any one segment and a lone "*" matches
// everything. Examples: "memory.*", "*.deleted", "*.*", "link.created".
func Match(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	ps := strings.Split(pattern, ".")
	es := strings.Split(eventType, ".")
	if len(ps) != len(es) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != es[i] {
			return false
		}
	}
	return true
}

// ParsePatterns splits a comma separated pattern list, dropping blanks.
func ParsePatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
