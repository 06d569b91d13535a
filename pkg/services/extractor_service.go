package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/llm"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/prompts"
)

// RejectedDraft is one extraction candidate that failed schema validation.
// The raw payload is kept so the failure is diagnosable without re-running
// the extraction call.
type RejectedDraft struct {
	Reason  string
	Payload json.RawMessage
}

// ExtractionResult carries the valid items and the per-item rejects of one
// extraction call.
type ExtractionResult struct {
	Items    []*models.ExtractedItem
	Rejected []RejectedDraft
}

// ExtractorService packages chunks into an extraction request and validates
// the response item by item. It performs no judgment on content correctness;
// that is the validator's job.
type ExtractorService interface {
	Extract(ctx context.Context, doc *models.Document, chunks []*models.Chunk) (*ExtractionResult, error)
}

type extractorService struct {
	client      llm.ExtractionClient
	temperature float64
	logger      *zap.Logger
}

// NewExtractorService creates a new ExtractorService.
func NewExtractorService(client llm.ExtractionClient, logger *zap.Logger) ExtractorService {
	return &extractorService{
		client:      client,
		temperature: 0.0,
		logger:      logger.Named("extractor-service"),
	}
}

var _ ExtractorService = (*extractorService)(nil)

// itemDraft is the wire shape of one extraction candidate. Fields are
// pointers so schema validation can distinguish absent from zero.
type itemDraft struct {
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	VendorName   *string         `json:"vendor_name"`
	MaterialName *string         `json:"material_name"`
	Quantity     *float64        `json:"quantity"`
	Unit         *string         `json:"unit"`
	UnitPrice    *float64        `json:"unit_price"`
	TaxPercent   *float64        `json:"tax_percent"`
	LeadTime     *string         `json:"lead_time"`
	OccurredAt   *string         `json:"occurred_at"`
	Attrs        map[string]any  `json:"attrs"`
	Confidence   *float64        `json:"confidence"`
	Source       *sourceRefDraft `json:"source"`
}

type sourceRefDraft struct {
	PageNo *int    `json:"page_no"`
	Line   *int    `json:"line"`
	Quote  *string `json:"quote"`
}

func (s *extractorService) Extract(ctx context.Context, doc *models.Document, chunks []*models.Chunk) (*ExtractionResult, error) {
	chunkCtx := make([]prompts.ChunkContext, len(chunks))
	maxPage := 0
	for i, c := range chunks {
		chunkCtx[i] = prompts.ChunkContext{PageNo: c.PageNo, Seq: c.Seq, Text: c.Text}
		if c.PageNo > maxPage {
			maxPage = c.PageNo
		}
	}

	prompt := prompts.BuildExtractionPrompt(doc.DocType, chunkCtx)
	response, err := s.client.GenerateResponse(ctx, prompt, prompts.ExtractionSystemMessage, s.temperature)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	// Parse the array loosely first so one malformed candidate cannot sink
	// its siblings.
	rawItems, err := llm.ParseJSONResponse[[]json.RawMessage](response)
	if err != nil {
		return nil, llm.NewError(llm.ErrorTypeSchema, "extraction response is not a JSON array", false, err)
	}

	result := &ExtractionResult{}
	for _, raw := range rawItems {
		item, reason := s.buildItem(doc, raw, maxPage)
		if reason != "" {
			s.logger.Warn("dropping invalid extraction candidate",
				zap.String("document_id", doc.ID.String()),
				zap.String("reason", reason))
			result.Rejected = append(result.Rejected, RejectedDraft{Reason: reason, Payload: raw})
			continue
		}
		result.Items = append(result.Items, item)
	}

	s.logger.Info("extraction complete",
		zap.String("document_id", doc.ID.String()),
		zap.Int("items", len(result.Items)),
		zap.Int("rejected", len(result.Rejected)))

	return result, nil
}

// buildItem validates one candidate against the item schema. A non-empty
// reason marks the candidate as rejected.
func (s *extractorService) buildItem(doc *models.Document, raw json.RawMessage, maxPage int) (*models.ExtractedItem, string) {
	var draft itemDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Sprintf("malformed item: %v", err)
	}

	itemType := models.ItemType(draft.Type)
	if !itemType.IsValid() {
		return nil, fmt.Sprintf("unknown item type %q", draft.Type)
	}
	if draft.Title == "" {
		return nil, "missing title"
	}
	if draft.Confidence == nil || *draft.Confidence < 0 || *draft.Confidence > 1 {
		return nil, "confidence missing or outside [0,1]"
	}
	if draft.Source == nil || draft.Source.PageNo == nil {
		return nil, "missing source page reference"
	}
	if *draft.Source.PageNo < 1 || *draft.Source.PageNo > maxPage {
		return nil, fmt.Sprintf("source page %d outside document (max %d)", *draft.Source.PageNo, maxPage)
	}

	item := &models.ExtractedItem{
		DocumentID: doc.ID,
		ProjectID:  doc.ProjectID,
		Type:       itemType,
		Title:      draft.Title,
		Attrs:      draft.Attrs,
		Confidence: *draft.Confidence,
		Source:     models.SourceRef{PageNo: *draft.Source.PageNo},
	}
	if draft.Source.Line != nil {
		item.Source.Line = *draft.Source.Line
	}
	if draft.Source.Quote != nil {
		item.Source.Quote = *draft.Source.Quote
	}
	if draft.VendorName != nil {
		item.VendorText = *draft.VendorName
	}
	if draft.MaterialName != nil {
		item.MaterialText = *draft.MaterialName
	}
	if draft.Quantity != nil {
		item.Quantity = *draft.Quantity
	}
	if draft.Unit != nil {
		item.Unit = *draft.Unit
	}
	if draft.UnitPrice != nil {
		item.UnitPrice = *draft.UnitPrice
	}
	if draft.TaxPercent != nil {
		item.TaxPercent = *draft.TaxPercent
	}
	if draft.LeadTime != nil {
		item.LeadTime = *draft.LeadTime
	}
	if draft.OccurredAt != nil && *draft.OccurredAt != "" {
		occurred, err := time.Parse("2006-01-02", *draft.OccurredAt)
		if err != nil {
			return nil, fmt.Sprintf("unparseable occurred_at %q", *draft.OccurredAt)
		}
		item.OccurredAt = &occurred
	}

	return item, ""
}
