// Package source resolves the user's selected context sources (files and
// folders) into the single text blob injected ahead of the prompt.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"epitelos/internal/config"
)

// Resolver reads configured context sources from disk.
type Resolver struct {
	sources []config.ContextSource
}

// NewResolver constructs a resolver over the configured sources.
func NewResolver(sources []config.ContextSource) *Resolver {
	return &Resolver{sources: sources}
}

// Sources returns the configured sources.
func (r *Resolver) Sources() []config.ContextSource {
	out := make([]config.ContextSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// Read concatenates the contents of the selected sources. Hidden sources
// are skipped, and a selected file already contained in a selected
// folder is skipped too so its content is not injected twice. Each blob
// is prefixed with a header naming its path.
func (r *Resolver) Read(ctx context.Context, ids []string) (string, error) {
	selected := r.filterSelected(ids)

	var b strings.Builder
	for _, src := range selected {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch src.Kind {
		case "folder":
			if err := r.readFolder(ctx, src.Path, &b); err != nil {
				return "", err
			}
		default:
			if err := readFile(src.Path, &b); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}

// filterSelected applies the hidden and folder-containment filters in
// configured order.
func (r *Resolver) filterSelected(ids []string) []config.ContextSource {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var candidates []config.ContextSource
	var folders []config.ContextSource
	for _, src := range r.sources {
		if _, ok := wanted[src.ID]; !ok || src.Hidden {
			continue
		}
		candidates = append(candidates, src)
		if src.Kind == "folder" {
			folders = append(folders, src)
		}
	}

	var out []config.ContextSource
	for _, src := range candidates {
		if src.Kind != "folder" && containedInAny(src.Path, folders) {
			continue
		}
		out = append(out, src)
	}
	return out
}

func containedInAny(path string, folders []config.ContextSource) bool {
	for _, folder := range folders {
		prefix := strings.TrimRight(folder.Path, string(filepath.Separator)) + string(filepath.Separator)
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (r *Resolver) readFolder(ctx context.Context, root string, b *strings.Builder) error {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			// Dotted directories (VCS metadata and the like) stay out of
			// the prompt.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk context folder %q: %w", root, err)
	}

	sort.Strings(files)
	for _, path := range files {
		if err := readFile(path, b); err != nil {
			// A single unreadable file inside a folder should not sink
			// the whole run.
			slog.Warn("skipping unreadable context file", "path", path, "err", err)
		}
	}
	return nil
}

func readFile(path string, b *strings.Builder) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read context source %q: %w", path, err)
	}

	fmt.Fprintf(b, "--- FILE: %s ---\n", path)
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return nil
}
