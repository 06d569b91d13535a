package ocr

import (
	"context"
	"io"
)

// MockParser is a configurable fake Parser for tests.
type MockParser struct {
	// ParseFunc is called when Parse is invoked. If nil, returns a single
	// page echoing the input.
	ParseFunc func(ctx context.Context, content io.Reader, mimeType string) (*ParseResult, error)

	// ParseCalls counts invocations.
	ParseCalls int
}

// NewMockParser creates a new mock parser.
func NewMockParser() *MockParser {
	return &MockParser{}
}

var _ Parser = (*MockParser)(nil)

// Parse implements Parser.
func (m *MockParser) Parse(ctx context.Context, content io.Reader, mimeType string) (*ParseResult, error) {
	m.ParseCalls++
	if m.ParseFunc != nil {
		return m.ParseFunc(ctx, content, mimeType)
	}
	text, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	return &ParseResult{Pages: []Page{{PageNo: 1, Text: string(text)}}}, nil
}
