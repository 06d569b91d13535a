package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
)

// ClarificationDecision is a human reviewer's verdict on one flagged item.
type ClarificationDecision struct {
	VendorID   *uuid.UUID
	MaterialID *uuid.UUID
	Confidence float64
}

// ClarificationService exposes flagged items for human review and applies
// decisions. Once the last flagged item of a document is resolved, the
// document re-enters validated and commits.
type ClarificationService interface {
	List(ctx context.Context) ([]*models.ExtractedItem, error)
	Resolve(ctx context.Context, itemID uuid.UUID, decision ClarificationDecision) error

	// Sweep finishes any clarifying document with no flagged items left. A
	// crash between resolving the last item and committing the document
	// would otherwise strand it, since the pipeline resume path skips
	// clarifying documents. Called once at startup.
	Sweep(ctx context.Context) error
}

type clarificationService struct {
	items                  repositories.ItemRepository
	documents              repositories.DocumentRepository
	events                 repositories.EventRepository
	clarificationThreshold float64
	logger                 *zap.Logger
}

// NewClarificationService creates a new ClarificationService.
func NewClarificationService(
	items repositories.ItemRepository,
	documents repositories.DocumentRepository,
	events repositories.EventRepository,
	clarificationThreshold float64,
	logger *zap.Logger,
) ClarificationService {
	return &clarificationService{
		items:                  items,
		documents:              documents,
		events:                 events,
		clarificationThreshold: clarificationThreshold,
		logger:                 logger.Named("clarification-service"),
	}
}

var _ ClarificationService = (*clarificationService)(nil)

func (s *clarificationService) List(ctx context.Context) ([]*models.ExtractedItem, error) {
	return s.items.ListClarifications(ctx)
}

func (s *clarificationService) Resolve(ctx context.Context, itemID uuid.UUID, decision ClarificationDecision) error {
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %g", decision.Confidence)
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	doc, err := s.documents.GetByID(ctx, item.DocumentID)
	if err != nil {
		return err
	}

	// A resolution that clears the threshold with a full vendor/material
	// binding contributes its observed price, which the original commit
	// deliberately withheld.
	var price *models.PriceRecord
	resolved := *item
	resolved.VendorID = firstNonNil(decision.VendorID, item.VendorID)
	resolved.MaterialID = firstNonNil(decision.MaterialID, item.MaterialID)
	resolved.Confidence = decision.Confidence
	resolved.NeedsClarification = false
	if decision.Confidence >= s.clarificationThreshold {
		price = priceRecordFor(doc, &resolved, s.clarificationThreshold)
	}

	if err := s.items.Resolve(ctx, itemID, decision.VendorID, decision.MaterialID, decision.Confidence, price); err != nil {
		return err
	}

	s.logger.Info("clarification resolved",
		zap.String("item_id", itemID.String()),
		zap.String("document_id", item.DocumentID.String()),
		zap.Float64("confidence", decision.Confidence))

	return s.finishDocumentIfClear(ctx, doc)
}

func (s *clarificationService) Sweep(ctx context.Context) error {
	docs, err := s.documents.ListByStatus(ctx, models.DocumentClarifying)
	if err != nil {
		return fmt.Errorf("failed to list clarifying documents: %w", err)
	}

	for _, doc := range docs {
		if err := s.finishDocumentIfClear(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// finishDocumentIfClear moves a clarifying document to committed once no
// flagged items remain: clarify/ok, back through validated, then commit/ok.
func (s *clarificationService) finishDocumentIfClear(ctx context.Context, doc *models.Document) error {
	if doc.Status != models.DocumentClarifying {
		return nil
	}

	remaining, err := s.items.GetByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	for _, it := range remaining {
		if it.NeedsClarification {
			return nil
		}
	}

	if err := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      models.StageClarify,
		Status:     models.EventOK,
	}); err != nil {
		return err
	}
	if err := s.documents.UpdateStatus(ctx, doc.ID, models.DocumentValidated, ""); err != nil {
		return err
	}
	if err := s.documents.UpdateStatus(ctx, doc.ID, models.DocumentCommitted, ""); err != nil {
		return err
	}
	if err := s.events.Append(ctx, &models.IngestEvent{
		DocumentID: doc.ID,
		Stage:      models.StageCommit,
		Status:     models.EventOK,
		Payload:    map[string]any{"via": "clarification"},
	}); err != nil {
		return err
	}

	s.logger.Info("document committed after clarification",
		zap.String("document_id", doc.ID.String()))

	return nil
}

func firstNonNil(a, b *uuid.UUID) *uuid.UUID {
	if a != nil {
		return a
	}
	return b
}
