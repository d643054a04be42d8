// Package importer loads a folder of Markdown notes, such as an Obsidian
// vault, into the memory store. Every note becomes a memory created through
// the memory service, so it is embedded and auto-linked like any other;
// [[wiki links]] between notes then become explicit memory links.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/pkg/types"
)

// Memories is the part of the memory service an import writes through.
type Memories interface {
	CreateMemory(ctx context.Context, in types.MemoryInput) (*engine.CreateResult, error)
	LinkMemories(ctx context.Context, id int64, targets []int64) ([]int64, error)
}

// Result summarises an import.
type Result struct {
	FilesFound      int           `json:"files_found"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesFailed     int           `json:"files_failed"`
	MemoriesCreated int           `json:"memories_created"`
	AutoLinks       int           `json:"auto_links"`
	WikiLinks       int           `json:"wiki_links"`
	Unresolved      int           `json:"unresolved_links"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Importer walks a directory and creates memories from its notes.
type Importer struct {
	memories Memories
	logger   *zap.Logger

	// OnFile, when set, is called after each file with the running counts.
	OnFile func(path string, done, total int)
}

// New creates an importer.
func New(memories Memories, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{memories: memories, logger: logger}
}

// Import loads every .md and .markdown file under root. Hidden directories
// (.obsidian, .git, .trash) are skipped. A file that fails to parse or
// validate is counted and reported in Result.Errors; the import carries on.
// Provider, store and context errors abort the import.
func (imp *Importer) Import(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	info, err := os.Stat(root)
	if err != nil {
		return nil, types.NewValidationError("path", "cannot access %s: %v", root, err)
	}
	if !info.IsDir() {
		return nil, types.NewValidationError("path", "%s is not a directory", root)
	}

	files, err := collectMarkdown(root)
	if err != nil {
		return nil, fmt.Errorf("importer: walk %s: %w", root, err)
	}
	res := &Result{FilesFound: len(files)}

	type created struct {
		id    int64
		links []string
	}
	var notes []created
	byName := make(map[string]int64)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, _ := filepath.Rel(root, path)
		note, err := imp.readNote(path, rel)
		switch {
		case err != nil:
			res.FilesFailed++
			res.Errors = append(res.Errors, err.Error())
		case note == nil:
			res.FilesSkipped++
		default:
			out, err := imp.memories.CreateMemory(ctx, note.Input())
			if err != nil {
				var ve *types.ValidationError
				if !errors.As(err, &ve) {
					return res, fmt.Errorf("importer: %s: %w", rel, err)
				}
				res.FilesFailed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rel, err))
				break
			}
			res.MemoriesCreated++
			res.AutoLinks += len(out.AutoLinkedTo)
			notes = append(notes, created{id: out.Memory.ID, links: note.Links})
			for _, key := range []string{note.Title, titleFromPath(rel), strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))} {
				if _, taken := byName[strings.ToLower(key)]; !taken {
					byName[strings.ToLower(key)] = out.Memory.ID
				}
			}
		}
		if imp.OnFile != nil {
			imp.OnFile(rel, i+1, len(files))
		}
	}

	for _, n := range notes {
		var targets []int64
		for _, link := range n.links {
			id, ok := byName[strings.ToLower(link)]
			if !ok {
				res.Unresolved++
				continue
			}
			if id != n.id {
				targets = append(targets, id)
			}
		}
		for len(targets) > 0 {
			batch := targets
			if len(batch) > engine.MaxManualLinks {
				batch = batch[:engine.MaxManualLinks]
			}
			targets = targets[len(batch):]
			linked, err := imp.memories.LinkMemories(ctx, n.id, batch)
			if err != nil {
				return res, fmt.Errorf("importer: link memory %d: %w", n.id, err)
			}
			res.WikiLinks += len(linked)
		}
	}

	res.Duration = time.Since(start)
	imp.logger.Info("import complete",
		zap.String("root", root),
		zap.Int("files", res.FilesFound),
		zap.Int("memories", res.MemoriesCreated),
		zap.Int("failed", res.FilesFailed),
		zap.Int("wiki_links", res.WikiLinks),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// readNote returns nil for an empty file.
func (imp *Importer) readNote(path, rel string) (*Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	return ParseNote(data, rel)
}

// collectMarkdown returns the Markdown files under root in lexical order.
func collectMarkdown(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
