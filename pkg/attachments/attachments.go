// Package attachments builds the file and context parts a user message can
// carry: local file attachments (validated before admission) and reference
// material captured from tabs, selections, bookmarks, or the clipboard.
package attachments

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/kelvincushman/browserclaw/pkg/types"
)

// MaxFileSize caps admitted attachments at 32 MiB.
const MaxFileSize = 32 << 20

// Context types for ContextParts.
const (
	ContextTypeTab       = "tab"
	ContextTypeSelection = "selection"
	ContextTypeBookmark  = "bookmark"
	ContextTypeClipboard = "clipboard"
)

// fallbackMediaTypes covers extensions the platform mime registry often
// misses.
var fallbackMediaTypes = map[string]string{
	".md":   "text/markdown",
	".json": "application/json",
	".csv":  "text/csv",
	".log":  "text/plain",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
}

// NewFilePart validates a local file and builds its attachment part. PDF
// files are additionally checked for structural validity and a non-zero
// page count before admission.
func NewFilePart(path string) (*types.FilePart, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("attachment not readable: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment %s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("attachment %s exceeds the %d byte limit", path, MaxFileSize)
	}

	mediaType := MediaTypeFor(abs)
	if mediaType == "application/pdf" {
		if err := validatePDF(abs); err != nil {
			return nil, err
		}
	}

	return &types.FilePart{
		MediaType: mediaType,
		Filename:  filepath.Base(abs),
		URL:       "file://" + abs,
	}, nil
}

// MediaTypeFor infers a media type from the file extension, defaulting to
// application/octet-stream.
func MediaTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := fallbackMediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		// Strip charset parameters; the model only needs the type.
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		return mt
	}
	return "application/octet-stream"
}

// validatePDF rejects corrupt or empty PDF files.
func validatePDF(path string) error {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return fmt.Errorf("invalid PDF %s: %w", filepath.Base(path), err)
	}
	if pages == 0 {
		return fmt.Errorf("PDF %s has no pages", filepath.Base(path))
	}
	return nil
}

// NewTabContext captures a tab's cleaned content as reference material.
func NewTabContext(title, url, content string) *types.ContextPart {
	return &types.ContextPart{
		ContextType: ContextTypeTab,
		Label:       title,
		Value:       content,
		Metadata:    map[string]interface{}{"url": url},
	}
}

// NewSelectionContext captures highlighted page text.
func NewSelectionContext(pageTitle, selected string) *types.ContextPart {
	return &types.ContextPart{
		ContextType: ContextTypeSelection,
		Label:       pageTitle,
		Value:       selected,
	}
}

// NewBookmarkContext captures a saved bookmark.
func NewBookmarkContext(title, url string) *types.ContextPart {
	return &types.ContextPart{
		ContextType: ContextTypeBookmark,
		Label:       title,
		Value:       url,
	}
}

// CaptureClipboard reads the system clipboard into a context part.
func CaptureClipboard() (*types.ContextPart, error) {
	if clipboard.Unsupported {
		return nil, fmt.Errorf("clipboard is not available on this platform")
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read clipboard: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("clipboard is empty")
	}
	return &types.ContextPart{
		ContextType: ContextTypeClipboard,
		Label:       "Clipboard",
		Value:       text,
	}, nil
}
