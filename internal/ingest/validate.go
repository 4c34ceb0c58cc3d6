package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const maxDocumentBytes = 20 << 20 // 20 MB

var (
	ErrEmptyDocument   = errors.New("document is empty")
	ErrDocumentTooBig  = fmt.Errorf("document exceeds the %d byte limit", maxDocumentBytes)
	ErrMissingFilename = errors.New("filename is required")
)

var allowedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
	".json":     true,
}

// ValidateDocument checks a document against the upload constraints before
// any chunking or embedding work happens.
func ValidateDocument(filename string, size int) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return ErrMissingFilename
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported file type %q", ext)
	}
	if size == 0 {
		return ErrEmptyDocument
	}
	if size > maxDocumentBytes {
		return ErrDocumentTooBig
	}
	return nil
}
