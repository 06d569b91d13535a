package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
	"github.com/fabrica-inc/ingest-engine/pkg/similarity"
)

// ResolverService links free-text vendor/material names to canonical catalog
// entities via fuzzy matching, learning new aliases from strong matches.
type ResolverService interface {
	// Resolve binds catalog references on the items in place. Items whose
	// best match lands in the middle band are bound provisionally and
	// flagged for clarification; below the low threshold the reference
	// stays unresolved and the item is flagged.
	Resolve(ctx context.Context, doc *models.Document, items []*models.ExtractedItem) error
}

type resolverService struct {
	catalog       repositories.CatalogRepository
	scorer        similarity.Scorer
	highThreshold float64
	lowThreshold  float64
	logger        *zap.Logger
}

// NewResolverService creates a new ResolverService.
func NewResolverService(
	catalog repositories.CatalogRepository,
	scorer similarity.Scorer,
	highThreshold, lowThreshold float64,
	logger *zap.Logger,
) ResolverService {
	return &resolverService{
		catalog:       catalog,
		scorer:        scorer,
		highThreshold: highThreshold,
		lowThreshold:  lowThreshold,
		logger:        logger.Named("resolver-service"),
	}
}

var _ ResolverService = (*resolverService)(nil)

// match is the outcome of scoring one name against one catalog.
type match struct {
	entry       *models.CatalogEntry
	score       float64
	exact       bool
	matchedText string // the canonical name or alias that scored best
}

func (s *resolverService) Resolve(ctx context.Context, doc *models.Document, items []*models.ExtractedItem) error {
	vendors, err := s.catalog.ListEntries(ctx, models.KindVendor)
	if err != nil {
		return fmt.Errorf("failed to load vendor catalog: %w", err)
	}
	materials, err := s.catalog.ListEntries(ctx, models.KindMaterial)
	if err != nil {
		return fmt.Errorf("failed to load material catalog: %w", err)
	}

	for _, item := range items {
		if item.VendorText != "" {
			id, err := s.resolveRef(ctx, doc, item, item.VendorText, vendors, "vendor")
			if err != nil {
				return err
			}
			item.VendorID = id
		}
		if item.MaterialText != "" {
			id, err := s.resolveRef(ctx, doc, item, item.MaterialText, materials, "material")
			if err != nil {
				return err
			}
			item.MaterialID = id
		}
	}

	return nil
}

// resolveRef matches one free-text name against one catalog, applies the
// threshold bands to the item, and learns an alias on a strong match.
func (s *resolverService) resolveRef(
	ctx context.Context,
	doc *models.Document,
	item *models.ExtractedItem,
	text string,
	entries []*models.CatalogEntry,
	kindLabel string,
) (*uuid.UUID, error) {
	best := s.bestMatch(text, entries)
	if best == nil {
		flagClarification(item, fmt.Sprintf("no %s catalog entry matches %q", kindLabel, text))
		return nil, nil
	}

	s.logger.Debug("catalog match",
		zap.String("document_id", doc.ID.String()),
		zap.String("kind", kindLabel),
		zap.String("text", text),
		zap.String("matched", best.matchedText),
		zap.Float64("score", best.score),
		zap.Bool("exact", best.exact))

	switch {
	case best.exact || best.score >= s.highThreshold:
		if !best.exact && !knowsText(best.entry, text) {
			if err := s.catalog.CreateAlias(ctx, &models.Alias{
				EntityID:  best.entry.EntityID,
				Kind:      best.entry.Kind,
				Text:      text,
				SourceDoc: &doc.ID,
			}); err != nil {
				return nil, err
			}
			s.logger.Info("learned alias",
				zap.String("kind", kindLabel),
				zap.String("alias", text),
				zap.String("canonical", best.entry.Name))
		}
		id := best.entry.EntityID
		return &id, nil

	case best.score >= s.lowThreshold:
		// Provisional binding: keep the candidate but ask a human.
		flagClarification(item, fmt.Sprintf("%s %q matched %q at %.2f, below auto-accept", kindLabel, text, best.entry.Name, best.score))
		id := best.entry.EntityID
		return &id, nil

	default:
		flagClarification(item, fmt.Sprintf("%s %q has no confident catalog match (best %.2f)", kindLabel, text, best.score))
		return nil, nil
	}
}

// bestMatch scores text against every canonical name and alias. Tie-break
// order: exact case-insensitive match wins outright; among equal fuzzy
// scores, the entity with more existing aliases wins.
func (s *resolverService) bestMatch(text string, entries []*models.CatalogEntry) *match {
	var best *match
	for _, entry := range entries {
		for _, candidate := range append([]string{entry.Name}, entry.Aliases...) {
			m := match{
				entry:       entry,
				score:       s.scorer.Score(text, candidate),
				exact:       strings.EqualFold(text, candidate),
				matchedText: candidate,
			}
			if m.exact {
				m.score = 1.0
			}
			if better(&m, best) {
				clone := m
				best = &clone
			}
		}
	}
	return best
}

// better reports whether candidate should replace current.
func better(candidate, current *match) bool {
	if current == nil {
		return candidate.score > 0
	}
	if candidate.exact != current.exact {
		return candidate.exact
	}
	if candidate.score != current.score {
		return candidate.score > current.score
	}
	return candidate.entry.AliasCount > current.entry.AliasCount
}

// knowsText reports whether the entry's canonical name or an existing alias
// already covers the text (case-insensitive), in which case no new alias is
// needed.
func knowsText(entry *models.CatalogEntry, text string) bool {
	if strings.EqualFold(entry.Name, text) {
		return true
	}
	for _, alias := range entry.Aliases {
		if strings.EqualFold(alias, text) {
			return true
		}
	}
	return false
}

// flagClarification marks the item for human review with a reason, without
// duplicating reasons on reruns.
func flagClarification(item *models.ExtractedItem, reason string) {
	item.NeedsClarification = true
	for _, existing := range item.ClarifyReasons {
		if existing == reason {
			return
		}
	}
	item.ClarifyReasons = append(item.ClarifyReasons, reason)
}
