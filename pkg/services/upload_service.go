// Package services contains the ingestion pipeline's business logic. Each
// stage is a small service behind an interface; the pipeline service wires
// them into the document state machine.
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/contentstore"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
)

// UploadRequest describes one incoming file.
type UploadRequest struct {
	Filename  string
	MimeType  string
	ProjectID *uuid.UUID
	Content   io.Reader
}

// UploadService is the dedup gate: it hashes incoming bytes and either
// short-circuits to an existing document or stores the file and creates a
// new one.
type UploadService interface {
	// Upload returns the document for the given bytes and whether it already
	// existed. Re-uploading identical bytes always resolves to the existing
	// document.
	Upload(ctx context.Context, req UploadRequest) (*models.Document, bool, error)
}

type uploadService struct {
	documents repositories.DocumentRepository
	events    repositories.EventRepository
	store     contentstore.Store
	logger    *zap.Logger
}

// NewUploadService creates a new UploadService.
func NewUploadService(
	documents repositories.DocumentRepository,
	events repositories.EventRepository,
	store contentstore.Store,
	logger *zap.Logger,
) UploadService {
	return &uploadService{
		documents: documents,
		events:    events,
		store:     store,
		logger:    logger.Named("upload-service"),
	}
}

var _ UploadService = (*uploadService)(nil)

func (s *uploadService) Upload(ctx context.Context, req UploadRequest) (*models.Document, bool, error) {
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("empty upload")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := s.documents.GetByHash(ctx, hash); err != nil {
		return nil, false, err
	} else if existing != nil {
		s.logger.Info("duplicate upload short-circuited",
			zap.String("document_id", existing.ID.String()),
			zap.String("content_hash", hash))
		return existing, true, nil
	}

	// Store bytes before creating the row: a failed storage write must leave
	// no document behind. Put is idempotent, so a crash between the two steps
	// only costs a re-upload.
	path, err := s.store.Put(ctx, hash, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to store upload: %w", err)
	}

	doc := &models.Document{
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		ByteSize:    int64(len(data)),
		StoragePath: path,
		ContentHash: hash,
		DocType:     models.DocTypeOther,
		Status:      models.DocumentUploaded,
		ProjectID:   req.ProjectID,
	}

	if err := s.documents.Create(ctx, doc); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Lost the race against a concurrent identical upload; the
			// winner's row is the document.
			winner, gerr := s.documents.GetByHash(ctx, hash)
			if gerr != nil {
				return nil, false, gerr
			}
			if winner == nil {
				return nil, false, fmt.Errorf("duplicate upload conflict but no winner found for hash %s", hash)
			}
			s.logger.Info("concurrent duplicate upload resolved to winner",
				zap.String("document_id", winner.ID.String()),
				zap.String("content_hash", hash))
			return winner, true, nil
		}
		return nil, false, err
	}

	// Events reference the document row, so the start event can only follow
	// Create. The start/ok pair still brackets the stage in the audit trail.
	if err := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      models.StageUpload,
		Status:     models.EventStart,
		Payload: map[string]any{
			"filename":  doc.Filename,
			"byte_size": doc.ByteSize,
		},
	}); err != nil {
		return nil, false, err
	}
	if err := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      models.StageUpload,
		Status:     models.EventOK,
		Payload: map[string]any{
			"filename":     doc.Filename,
			"byte_size":    doc.ByteSize,
			"content_hash": doc.ContentHash,
		},
	}); err != nil {
		return nil, false, err
	}

	s.logger.Info("document uploaded",
		zap.String("document_id", doc.ID.String()),
		zap.String("filename", doc.Filename),
		zap.Int64("byte_size", doc.ByteSize))

	return doc, false, nil
}
