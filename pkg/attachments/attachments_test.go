package attachments

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "report.pdf", want: "application/pdf"},
		{path: "notes.md", want: "text/markdown"},
		{path: "data.json", want: "application/json"},
		{path: "table.csv", want: "text/csv"},
		{path: "archive.bin", want: "application/octet-stream"},
		{path: "UPPER.MD", want: "text/markdown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaTypeFor(tt.path))
		})
	}
}

func TestNewFilePart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# notes"), 0o644))

	part, err := NewFilePart(path)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", part.MediaType)
	assert.Equal(t, "notes.md", part.Filename)
	assert.Equal(t, "file://"+path, part.URL)
}

func TestNewFilePartRejectsMissingFile(t *testing.T) {
	_, err := NewFilePart(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestNewFilePartRejectsDirectory(t *testing.T) {
	_, err := NewFilePart(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestNewFilePartRejectsCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))

	_, err := NewFilePart(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pdf")
}

func TestContextPartConstructors(t *testing.T) {
	tab := NewTabContext("Docs", "https://docs.example.com", "page body")
	assert.Equal(t, ContextTypeTab, tab.ContextType)
	assert.Equal(t, "Docs", tab.Label)
	assert.Equal(t, "page body", tab.Value)
	assert.Equal(t, "https://docs.example.com", tab.Metadata["url"])

	sel := NewSelectionContext("Docs", "selected words")
	assert.Equal(t, ContextTypeSelection, sel.ContextType)
	assert.Equal(t, "selected words", sel.Value)

	bm := NewBookmarkContext("Docs", "https://docs.example.com")
	assert.Equal(t, ContextTypeBookmark, bm.ContextType)
	assert.Equal(t, "https://docs.example.com", bm.Value)
}
