package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind distinguishes the two canonical catalogs the resolver matches
// against.
type EntityKind string

const (
	KindVendor   EntityKind = "vendor"
	KindMaterial EntityKind = "material"
)

// Vendor is a canonical vendor catalog entry. The catalog itself is owned by
// the business application; this pipeline reads it and appends aliases and
// price history only.
type Vendor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Material is a canonical material catalog entry.
type Material struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Alias maps a free-text string to a canonical catalog entity. Aliases are
// additive: they are appended when a fuzzy match clears the high-confidence
// threshold and never overwritten.
type Alias struct {
	ID        uuid.UUID  `json:"id"`
	EntityID  uuid.UUID  `json:"entity_id"`
	Kind      EntityKind `json:"kind"`
	Text      string     `json:"text"`
	SourceDoc *uuid.UUID `json:"source_doc,omitempty"` // document that taught us this alias
	CreatedAt time.Time  `json:"created_at"`
}

// PriceRecord is one observed vendor price for a material. Appended by the
// committer for items whose confidence cleared the clarification threshold.
type PriceRecord struct {
	ID         uuid.UUID `json:"id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	MaterialID uuid.UUID `json:"material_id"`
	UnitPrice  float64   `json:"unit_price"`
	Unit       string    `json:"unit,omitempty"`
	DocumentID uuid.UUID `json:"document_id"`
	ObservedAt time.Time `json:"observed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// CatalogEntry is the resolver's uniform view over both catalogs: a
// canonical entity plus every string known to refer to it.
type CatalogEntry struct {
	EntityID   uuid.UUID
	Kind       EntityKind
	Name       string
	Aliases    []string
	AliasCount int
}
