// Package ocr wraps the external OCR/parsing capability that turns stored
// file bytes into page-scoped text and layout metadata.
package ocr

import (
	"context"
	"io"
)

// Page is one parsed page of a document.
type Page struct {
	PageNo int            `json:"page_no"`
	Text   string         `json:"text"`
	Layout map[string]any `json:"layout,omitempty"`
}

// ParseResult is the full parsing output for a document.
type ParseResult struct {
	Pages []Page `json:"pages"`
}

// Parser is the OCR/parsing capability. Implementations must honor context
// cancellation; a hung remote call must not hold a pipeline worker forever.
type Parser interface {
	// Parse extracts page-scoped text from the document bytes.
	// Returns apperrors.ErrUnsupportedMime for mime types the capability
	// cannot handle; that failure is permanent and must not be retried.
	Parse(ctx context.Context, content io.Reader, mimeType string) (*ParseResult, error)
}
