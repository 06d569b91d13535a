// Package models contains domain types for ingest-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents where a document sits in the ingestion pipeline.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentParsed     DocumentStatus = "parsed"
	DocumentClassified DocumentStatus = "classified"
	DocumentChunked    DocumentStatus = "chunked"
	DocumentExtracted  DocumentStatus = "extracted"
	DocumentValidated  DocumentStatus = "validated"
	DocumentClarifying DocumentStatus = "clarifying"
	DocumentCommitted  DocumentStatus = "committed"
	DocumentFailed     DocumentStatus = "failed"
)

// String returns the string representation of a DocumentStatus.
func (s DocumentStatus) String() string {
	return string(s)
}

// IsValid returns true for a known document status.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentUploaded, DocumentParsed, DocumentClassified, DocumentChunked,
		DocumentExtracted, DocumentValidated, DocumentClarifying,
		DocumentCommitted, DocumentFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further processing is possible.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentCommitted || s == DocumentFailed
}

// CanTransition reports whether the state machine permits moving from s to
// target. Any non-terminal state may fail; committed and failed are terminal.
func (s DocumentStatus) CanTransition(target DocumentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if target == DocumentFailed {
		return true
	}

	switch s {
	case DocumentUploaded:
		return target == DocumentParsed
	case DocumentParsed:
		return target == DocumentClassified
	case DocumentClassified:
		return target == DocumentChunked
	case DocumentChunked:
		return target == DocumentExtracted
	case DocumentExtracted:
		return target == DocumentValidated
	case DocumentValidated:
		return target == DocumentClarifying || target == DocumentCommitted
	case DocumentClarifying:
		return target == DocumentValidated
	default:
		return false
	}
}

// DocumentType is the detected class of an uploaded document.
type DocumentType string

const (
	DocTypeQuote   DocumentType = "quote"
	DocTypeInvoice DocumentType = "invoice"
	DocTypeBrief   DocumentType = "brief"
	DocTypeOther   DocumentType = "other"
)

// IsValid returns true for a known document type.
func (t DocumentType) IsValid() bool {
	switch t {
	case DocTypeQuote, DocTypeInvoice, DocTypeBrief, DocTypeOther:
		return true
	default:
		return false
	}
}

// Document is one uploaded file. ContentHash is globally unique: re-uploading
// identical bytes resolves to the existing row, never a second one.
type Document struct {
	ID             uuid.UUID      `json:"id"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mime_type"`
	ByteSize       int64          `json:"byte_size"`
	StoragePath    string         `json:"storage_path"`
	ContentHash    string         `json:"content_hash"`
	Language       string         `json:"language,omitempty"`
	DocType        DocumentType   `json:"doc_type"`
	TypeConfidence float64        `json:"type_confidence"`
	Status         DocumentStatus `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	ProjectID      *uuid.UUID     `json:"project_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
