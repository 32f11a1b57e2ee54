// Package archive persists finished responses as markdown files so runs
// can be revisited after the process exits.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry describes one archived response.
type Entry struct {
	ID           string    `json:"id"`
	FunctionName string    `json:"function_name"`
	Model        string    `json:"model"`
	SavedAt      time.Time `json:"saved_at"`
	Path         string    `json:"path"`
}

// Store is a flat-file archive rooted at one directory.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the archive directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save writes one response. The file name carries the timestamp and a
// uuid so concurrent saves never collide.
func (s *Store) Save(functionName, model, text string) (Entry, error) {
	now := time.Now()
	id := uuid.NewString()
	name := fmt.Sprintf("%s-%s.md", now.Format("20060102-150405"), id)
	path := filepath.Join(s.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "---\nid: %s\nfunction: %s\nmodel: %s\nsaved_at: %s\n---\n\n", id, functionName, model, now.Format(time.RFC3339))
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return Entry{}, fmt.Errorf("write archive entry: %w", err)
	}

	return Entry{
		ID:           id,
		FunctionName: functionName,
		Model:        model,
		SavedAt:      now,
		Path:         path,
	}, nil
}

// List returns archived entries, newest first.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".md") {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		entry, err := readHeader(path)
		if err != nil {
			// Foreign or damaged files don't break listing.
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].SavedAt.After(entries[j].SavedAt) })
	return entries, nil
}

// Read returns the archived response text (without the header block).
func (s *Store) Read(id string) (string, error) {
	entries, err := s.List()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.ID == id {
			data, err := os.ReadFile(e.Path)
			if err != nil {
				return "", fmt.Errorf("read archive entry: %w", err)
			}
			_, body, _ := strings.Cut(string(data), "---\n\n")
			return body, nil
		}
	}
	return "", fmt.Errorf("unknown archive entry %q", id)
}

func readHeader(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return Entry{}, fmt.Errorf("missing header in %q", path)
	}
	header, _, ok := strings.Cut(text[4:], "\n---\n")
	if !ok {
		return Entry{}, fmt.Errorf("unterminated header in %q", path)
	}

	entry := Entry{Path: path}
	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "id":
			entry.ID = value
		case "function":
			entry.FunctionName = value
		case "model":
			entry.Model = value
		case "saved_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				entry.SavedAt = ts
			}
		}
	}
	if entry.ID == "" {
		return Entry{}, fmt.Errorf("no id in %q", path)
	}
	return entry, nil
}
