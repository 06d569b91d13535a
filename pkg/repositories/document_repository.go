// Package repositories provides data access for the ingestion pipeline's
// persisted state.
package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
)

// DocumentRepository provides data access for documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetByHash(ctx context.Context, contentHash string) (*models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, failureReason string) error
	UpdateClassification(ctx context.Context, id uuid.UUID, docType models.DocumentType, confidence float64, language string) error
	ListByStatus(ctx context.Context, status models.DocumentStatus) ([]*models.Document, error)
}

type documentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) DocumentRepository {
	return &documentRepository{db: db}
}

var _ DocumentRepository = (*documentRepository)(nil)

const documentColumns = `id, filename, mime_type, byte_size, storage_path, content_hash,
	       language, doc_type, type_confidence, status, failure_reason, project_id, created_at`

// Create inserts a new document row. The unique index on content_hash makes
// concurrent duplicate uploads race deterministically: the loser gets
// apperrors.ErrConflict and should re-read the winner by hash.
func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO ingest_documents (
			filename, mime_type, byte_size, storage_path, content_hash,
			language, doc_type, type_confidence, status, failure_reason, project_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		doc.Filename,
		doc.MimeType,
		doc.ByteSize,
		doc.StoragePath,
		doc.ContentHash,
		doc.Language,
		doc.DocType,
		doc.TypeConfidence,
		doc.Status,
		doc.FailureReason,
		doc.ProjectID,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM ingest_documents WHERE id = $1`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// GetByHash returns the document with the given content hash, or nil when no
// such document exists.
func (r *documentRepository) GetByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM ingest_documents WHERE content_hash = $1`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, contentHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// UpdateStatus transitions a document, enforcing the state machine in SQL:
// the update only applies when the current status matches an allowed
// predecessor, so two workers cannot both advance the same document.
func (r *documentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, failureReason string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, current.Status, status)
	}

	query := `
		UPDATE ingest_documents
		SET status = $2, failure_reason = $3
		WHERE id = $1 AND status = $4`

	tag, err := r.db.Exec(ctx, query, id, status, failureReason, current.Status)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost a race: someone else moved the document first.
		return apperrors.ErrConflict
	}

	return nil
}

func (r *documentRepository) UpdateClassification(ctx context.Context, id uuid.UUID, docType models.DocumentType, confidence float64, language string) error {
	query := `
		UPDATE ingest_documents
		SET doc_type = $2, type_confidence = $3, language = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, docType, confidence, language)
	if err != nil {
		return fmt.Errorf("failed to update document classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *documentRepository) ListByStatus(ctx context.Context, status models.DocumentStatus) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM ingest_documents WHERE status = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID,
		&d.Filename,
		&d.MimeType,
		&d.ByteSize,
		&d.StoragePath,
		&d.ContentHash,
		&d.Language,
		&d.DocType,
		&d.TypeConfidence,
		&d.Status,
		&d.FailureReason,
		&d.ProjectID,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &d, nil
}
