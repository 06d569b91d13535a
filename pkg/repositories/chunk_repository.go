package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
)

// ChunkRepository provides data access for document chunks.
type ChunkRepository interface {
	// ReplaceForDocument atomically swaps the document's chunk set:
	// delete-then-insert inside one transaction, so reprocessing never
	// leaves stale and fresh chunks mixed.
	ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*models.Chunk) error

	GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.Chunk, error)
}

type chunkRepository struct {
	db *database.DB
}

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(db *database.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

var _ ChunkRepository = (*chunkRepository)(nil)

func (r *chunkRepository) ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*models.Chunk) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ingest_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("failed to delete prior chunks: %w", err)
		}

		query := `
			INSERT INTO ingest_chunks (document_id, project_id, page_no, seq, text, search_text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`

		for _, c := range chunks {
			err := tx.QueryRow(ctx, query,
				documentID,
				c.ProjectID,
				c.PageNo,
				c.Seq,
				c.Text,
				c.SearchText,
				c.Embedding,
			).Scan(&c.ID, &c.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert chunk page=%d seq=%d: %w", c.PageNo, c.Seq, err)
			}
			c.DocumentID = documentID
		}

		return nil
	})
}

func (r *chunkRepository) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.Chunk, error) {
	query := `
		SELECT id, document_id, project_id, page_no, seq, text, search_text, embedding, created_at
		FROM ingest_chunks
		WHERE document_id = $1
		ORDER BY page_no, seq`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(
			&c.ID,
			&c.DocumentID,
			&c.ProjectID,
			&c.PageNo,
			&c.Seq,
			&c.Text,
			&c.SearchText,
			&c.Embedding,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return chunks, nil
}
