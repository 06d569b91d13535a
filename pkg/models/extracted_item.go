package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemType is the closed set of structured facts extraction can produce.
type ItemType string

const (
	ItemLineItem ItemType = "line_item"
	ItemPurchase ItemType = "purchase"
	ItemShipping ItemType = "shipping"
	ItemDecision ItemType = "decision"
	ItemMetadata ItemType = "metadata"
)

// IsValid returns true for a known item type.
func (t ItemType) IsValid() bool {
	switch t {
	case ItemLineItem, ItemPurchase, ItemShipping, ItemDecision, ItemMetadata:
		return true
	default:
		return false
	}
}

// SourceRef points back into the originating document.
type SourceRef struct {
	PageNo int    `json:"page_no"`
	Line   int    `json:"line,omitempty"`
	Quote  string `json:"quote,omitempty"` // evidence snippet from the page
}

// ExtractedItem is one candidate structured fact produced by extraction and
// refined by resolution and validation. Confidence is always in [0,1]; items
// below the clarification threshold never update canonical vendor pricing.
type ExtractedItem struct {
	ID                 uuid.UUID      `json:"id"`
	DocumentID         uuid.UUID      `json:"document_id"`
	ProjectID          *uuid.UUID     `json:"project_id,omitempty"`
	Type               ItemType       `json:"type"`
	VendorID           *uuid.UUID     `json:"vendor_id,omitempty"`
	MaterialID         *uuid.UUID     `json:"material_id,omitempty"`
	VendorText         string         `json:"vendor_text,omitempty"`   // raw extracted vendor name
	MaterialText       string         `json:"material_text,omitempty"` // raw extracted material name
	Title              string         `json:"title"`
	Quantity           float64        `json:"quantity,omitempty"`
	Unit               string         `json:"unit,omitempty"`
	UnitPrice          float64        `json:"unit_price,omitempty"`
	TaxPercent         float64        `json:"tax_percent,omitempty"`
	LeadTime           string         `json:"lead_time,omitempty"`
	Attrs              map[string]any `json:"attrs,omitempty"`
	Source             SourceRef      `json:"source"`
	Confidence         float64        `json:"confidence"`
	NeedsClarification bool           `json:"needs_clarification"`
	ClarifyReasons     []string       `json:"clarify_reasons,omitempty"`
	OccurredAt         *time.Time     `json:"occurred_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}
