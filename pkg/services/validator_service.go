package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
)

// Confidence multipliers for failed plausibility checks. Checks accumulate
// as soft signals; nothing is rejected outright here.
const (
	quantityPenalty = 0.5
	pricePenalty    = 0.5
	datePenalty     = 0.7
)

// ValidatorService sanity-checks resolved items against plausibility bounds
// and historical prices, downgrading confidence and routing weak items to
// clarification.
type ValidatorService interface {
	Validate(ctx context.Context, doc *models.Document, items []*models.ExtractedItem) error
}

type validatorService struct {
	catalog                repositories.CatalogRepository
	clarificationThreshold float64
	priceMultiple          float64
	dateWindow             time.Duration
	logger                 *zap.Logger
}

// NewValidatorService creates a new ValidatorService.
func NewValidatorService(
	catalog repositories.CatalogRepository,
	clarificationThreshold, priceMultiple float64,
	dateWindow time.Duration,
	logger *zap.Logger,
) ValidatorService {
	return &validatorService{
		catalog:                catalog,
		clarificationThreshold: clarificationThreshold,
		priceMultiple:          priceMultiple,
		dateWindow:             dateWindow,
		logger:                 logger.Named("validator-service"),
	}
}

var _ ValidatorService = (*validatorService)(nil)

func (s *validatorService) Validate(ctx context.Context, doc *models.Document, items []*models.ExtractedItem) error {
	now := time.Now()
	for _, item := range items {
		if err := s.validateItem(ctx, item, now); err != nil {
			return err
		}
		if item.Confidence < s.clarificationThreshold {
			flagClarification(item, fmt.Sprintf("confidence %.2f below threshold %.2f", item.Confidence, s.clarificationThreshold))
		}
		if item.NeedsClarification {
			s.logger.Info("item routed to clarification",
				zap.String("document_id", doc.ID.String()),
				zap.String("title", item.Title),
				zap.Float64("confidence", item.Confidence),
				zap.Strings("reasons", item.ClarifyReasons))
		}
	}
	return nil
}

func (s *validatorService) validateItem(ctx context.Context, item *models.ExtractedItem, now time.Time) error {
	if quantityBearing(item.Type) && item.Quantity <= 0 {
		item.Confidence *= quantityPenalty
		flagClarification(item, fmt.Sprintf("quantity %g is not positive", item.Quantity))
	}

	if item.UnitPrice > 0 && item.MaterialID != nil {
		stats, err := s.catalog.PriceStats(ctx, *item.MaterialID)
		if err != nil {
			// Transient lookup failure: the stage retries rather than
			// guessing plausibility.
			return fmt.Errorf("failed to load price history: %w", err)
		}
		if stats != nil && !pricePlausible(item.UnitPrice, stats.MedianPrice, s.priceMultiple) {
			item.Confidence *= pricePenalty
			flagClarification(item, fmt.Sprintf("unit price %.2f outside %gx of historical median %.2f",
				item.UnitPrice, s.priceMultiple, stats.MedianPrice))
		}
	}

	if item.OccurredAt != nil {
		delta := item.OccurredAt.Sub(now)
		if delta > s.dateWindow || delta < -s.dateWindow {
			item.Confidence *= datePenalty
			flagClarification(item, fmt.Sprintf("date %s implausibly far from today", item.OccurredAt.Format("2006-01-02")))
		}
	}

	return nil
}

// quantityBearing reports whether the item type is expected to carry a
// positive quantity.
func quantityBearing(t models.ItemType) bool {
	switch t {
	case models.ItemLineItem, models.ItemPurchase, models.ItemShipping:
		return true
	default:
		return false
	}
}

// pricePlausible checks that price sits within [median/multiple, median*multiple].
func pricePlausible(price, median, multiple float64) bool {
	if median <= 0 || multiple <= 1 {
		return true
	}
	return price >= median/multiple && price <= median*multiple
}
