package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/engram/pkg/types"
)

// Note is one parsed Markdown file.
type Note struct {
	// RelPath is the path below the import root, slash separated.
	RelPath string

	Title      string
	Content    string
	Tags       []string
	Importance int

	// Links are the [[wiki link]] targets of the note.
	Links []string
}

// ParseNote parses a Markdown file. The title comes from the frontmatter,
// then the first H1 heading, then the file name. Content longer than a
// memory allows is cut at a rune boundary.
func ParseNote(data []byte, relPath string) (*Note, error) {
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: frontmatter: %w", relPath, err)
	}

	n := &Note{RelPath: filepath.ToSlash(relPath)}
	n.Title = stringField(fm, "title")
	if n.Title == "" {
		n.Title = firstHeading(body)
	}
	if n.Title == "" {
		n.Title = titleFromPath(relPath)
	}
	n.Title = truncateRunes(n.Title, types.MaxTitleLength)

	n.Tags = mergeTags(frontmatterTags(fm), inlineTags(body))
	if len(n.Tags) > types.MaxTags {
		n.Tags = n.Tags[:types.MaxTags]
	}
	n.Importance = importance(fm)
	n.Links = WikiLinks(body)
	n.Content = truncateRunes(strings.TrimSpace(StripWikiLinks(body)), types.MaxContentLength)
	return n, nil
}

// Input converts the note into a memory create request.
func (n *Note) Input() types.MemoryInput {
	content := n.Content
	if content == "" {
		content = n.Title
	}
	return types.MemoryInput{
		Title:      n.Title,
		Content:    content,
		Context:    truncateRunes("imported from "+n.RelPath, types.MaxContextLength),
		Tags:       n.Tags,
		Importance: n.Importance,
	}
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body. Without a closed block the whole text is body.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, "", err
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, text, nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, text, nil
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &fm); err != nil {
		return nil, "", err
	}
	return fm, strings.Join(lines[end+1:], "\n"), nil
}

func stringField(fm map[string]interface{}, key string) string {
	s, _ := fm[key].(string)
	return strings.TrimSpace(s)
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(name))
}

// frontmatterTags accepts both a YAML list and a comma separated string.
func frontmatterTags(fm map[string]interface{}) []string {
	var tags []string
	switch v := fm["tags"].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	case string:
		tags = strings.Split(v, ",")
	}
	out := tags[:0]
	for _, t := range tags {
		if t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#")); t != "" {
			out = append(out, t)
		}
	}
	return out
}

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

func inlineTags(body string) []string {
	var out []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	return out
}

// mergeTags concatenates and de-duplicates case-insensitively, keeping the
// first spelling.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(a, b...) {
		key := strings.ToLower(t)
		if !seen[key] {
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

// importance reads an integer 1-10 from the frontmatter; anything else
// leaves the service default.
func importance(fm map[string]interface{}) int {
	var v int
	switch raw := fm["importance"].(type) {
	case int:
		v = raw
	case string:
		v, _ = strconv.Atoi(strings.TrimSpace(raw))
	}
	if v < 1 || v > 10 {
		return 0
	}
	return v
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}
