package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
)

// CommitResult summarizes one staged batch.
type CommitResult struct {
	Committed      int
	Clarifications int
	PricesRecorded int
}

// CommitterService persists a document's extracted items in one atomic
// batch. Items needing clarification are staged alongside the rest; only
// confident, fully-resolved priced items feed vendor price history.
type CommitterService interface {
	Commit(ctx context.Context, doc *models.Document, items []*models.ExtractedItem) (*CommitResult, error)
}

type committerService struct {
	items                  repositories.ItemRepository
	clarificationThreshold float64
	logger                 *zap.Logger
}

// NewCommitterService creates a new CommitterService.
func NewCommitterService(items repositories.ItemRepository, clarificationThreshold float64, logger *zap.Logger) CommitterService {
	return &committerService{
		items:                  items,
		clarificationThreshold: clarificationThreshold,
		logger:                 logger.Named("committer-service"),
	}
}

var _ CommitterService = (*committerService)(nil)

func (s *committerService) Commit(ctx context.Context, doc *models.Document, items []*models.ExtractedItem) (*CommitResult, error) {
	result := &CommitResult{}

	var prices []*models.PriceRecord
	for _, item := range items {
		if item.NeedsClarification {
			result.Clarifications++
			continue
		}
		result.Committed++
		if price := priceRecordFor(doc, item, s.clarificationThreshold); price != nil {
			prices = append(prices, price)
		}
	}

	if err := s.items.CommitBatch(ctx, doc.ID, items, prices); err != nil {
		return nil, err
	}
	result.PricesRecorded = len(prices)

	s.logger.Info("batch committed",
		zap.String("document_id", doc.ID.String()),
		zap.Int("items", len(items)),
		zap.Int("clarifications", result.Clarifications),
		zap.Int("prices_recorded", result.PricesRecorded))

	return result, nil
}

// priceRecordFor returns the price history row an item contributes, or nil.
// Items below the clarification threshold never touch canonical pricing.
func priceRecordFor(doc *models.Document, item *models.ExtractedItem, threshold float64) *models.PriceRecord {
	if item.VendorID == nil || item.MaterialID == nil || item.UnitPrice <= 0 {
		return nil
	}
	if item.Confidence < threshold {
		return nil
	}

	observedAt := doc.CreatedAt
	if item.OccurredAt != nil {
		observedAt = *item.OccurredAt
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	return &models.PriceRecord{
		VendorID:   *item.VendorID,
		MaterialID: *item.MaterialID,
		UnitPrice:  item.UnitPrice,
		Unit:       item.Unit,
		DocumentID: doc.ID,
		ObservedAt: observedAt,
	}
}
