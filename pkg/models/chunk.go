package models

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a page-scoped slice of a document's text. Chunks are immutable:
// reprocessing replaces the document's whole chunk set atomically.
type Chunk struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	ProjectID  *uuid.UUID `json:"project_id,omitempty"`
	PageNo     int        `json:"page_no"`
	Seq        int        `json:"seq"` // order within the page
	Text       string     `json:"text"`
	SearchText string     `json:"search_text"` // normalized form fed to to_tsvector
	Embedding  []float32  `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}
