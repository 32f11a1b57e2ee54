package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeStray(dir string) error {
	return os.WriteFile(filepath.Join(dir, "stray.md"), []byte("just notes"), 0o600)
}

func TestSaveAndList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first, err := store.Save("Summarize", "gpt-4o", "first response")
	require.NoError(t, err)
	second, err := store.Save("Review", "llama3", "second response")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Review", entries[0].FunctionName)
	require.Equal(t, "llama3", entries[0].Model)
}

func TestReadReturnsBody(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	entry, err := store.Save("Summarize", "gpt-4o", "the body text")
	require.NoError(t, err)

	body, err := store.Read(entry.ID)
	require.NoError(t, err)
	require.Equal(t, "the body text\n", body)

	_, err = store.Read("no-such-id")
	require.Error(t, err)
}

func TestListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, err = store.Save("Fn", "m", "text")
	require.NoError(t, err)

	// A stray markdown file without our header must not break listing.
	require.NoError(t, writeStray(dir))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
