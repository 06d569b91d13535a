package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/llm"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/ocr"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
	"github.com/fabrica-inc/ingest-engine/pkg/similarity"
)

// ChunkerService splits parsed pages into bounded chunks, computes their
// search representation and embeddings, and atomically replaces the
// document's chunk set.
type ChunkerService interface {
	ChunkAndIndex(ctx context.Context, doc *models.Document, pages []ocr.Page) ([]*models.Chunk, error)
}

type chunkerService struct {
	chunks   repositories.ChunkRepository
	embedder llm.EmbeddingClient
	maxChars int
	dims     int
	logger   *zap.Logger
}

// NewChunkerService creates a new ChunkerService. maxChars bounds chunk
// length within a page; a chunk never spans pages. dims is the expected
// embedding vector size; zero disables the check.
func NewChunkerService(
	chunks repositories.ChunkRepository,
	embedder llm.EmbeddingClient,
	maxChars int,
	dims int,
	logger *zap.Logger,
) ChunkerService {
	if maxChars < 1 {
		maxChars = 2000
	}
	return &chunkerService{
		chunks:   chunks,
		embedder: embedder,
		maxChars: maxChars,
		dims:     dims,
		logger:   logger.Named("chunker-service"),
	}
}

var _ ChunkerService = (*chunkerService)(nil)

func (s *chunkerService) ChunkAndIndex(ctx context.Context, doc *models.Document, pages []ocr.Page) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for _, page := range pages {
		for seq, text := range splitPage(page.Text, s.maxChars) {
			chunks = append(chunks, &models.Chunk{
				DocumentID: doc.ID,
				ProjectID:  doc.ProjectID,
				PageNo:     page.PageNo,
				Seq:        seq,
				Text:       text,
				SearchText: similarity.Normalize(text),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks", doc.ID)
	}

	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Text
	}
	embeddings, err := s.embedder.CreateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(embeddings))
	}
	for i, c := range chunks {
		if s.dims > 0 && len(embeddings[i]) != s.dims {
			return nil, fmt.Errorf("embedding dimension mismatch on chunk %d: want %d, got %d",
				i, s.dims, len(embeddings[i]))
		}
		c.Embedding = embeddings[i]
	}

	if err := s.chunks.ReplaceForDocument(ctx, doc.ID, chunks); err != nil {
		return nil, err
	}

	s.logger.Info("document chunked and indexed",
		zap.String("document_id", doc.ID.String()),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)))

	return chunks, nil
}

// splitPage splits one page's text into pieces of at most maxChars,
// preferring paragraph then line then word boundaries. Pages with no text
// yield no chunks.
func splitPage(text string, maxChars int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= maxChars {
		return []string{trimmed}
	}

	var parts []string
	rest := trimmed
	for len(rest) > maxChars {
		cut := boundaryBefore(rest, maxChars)
		parts = append(parts, strings.TrimSpace(rest[:cut]))
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// boundaryBefore returns a cut position <= limit, preferring the last
// paragraph break, then line break, then space. Falls back to a hard cut at
// a rune boundary.
func boundaryBefore(text string, limit int) int {
	window := text[:limit]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return idx + len(sep)
		}
	}
	// Hard cut: back up to a rune boundary.
	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
