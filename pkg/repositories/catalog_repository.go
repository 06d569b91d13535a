package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
)

// PriceStats summarizes historical prices for a material, used by the
// validator's plausibility check.
type PriceStats struct {
	MedianPrice float64
	Samples     int
}

// CatalogRepository reads the canonical vendor/material catalogs. The
// catalogs are owned by the business application; this pipeline's write
// access is limited to alias creation (plus seeding helpers used by tests
// and fixtures).
type CatalogRepository interface {
	ListEntries(ctx context.Context, kind models.EntityKind) ([]*models.CatalogEntry, error)

	// CreateAlias appends an alias. Duplicate aliases for the same entity
	// are silently ignored; aliases are additive and never overwritten.
	CreateAlias(ctx context.Context, alias *models.Alias) error

	// PriceStats returns historical price statistics for a material, or nil
	// when no history exists.
	PriceStats(ctx context.Context, materialID uuid.UUID) (*PriceStats, error)

	CreateVendor(ctx context.Context, vendor *models.Vendor) error
	CreateMaterial(ctx context.Context, material *models.Material) error
}

type catalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *database.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

var _ CatalogRepository = (*catalogRepository)(nil)

// aliasTables maps an entity kind to its alias table and owning column.
var aliasTables = map[models.EntityKind]struct {
	table  string
	column string
}{
	models.KindVendor:   {"ingest_vendor_aliases", "vendor_id"},
	models.KindMaterial: {"ingest_material_aliases", "material_id"},
}

func (r *catalogRepository) ListEntries(ctx context.Context, kind models.EntityKind) ([]*models.CatalogEntry, error) {
	at, ok := aliasTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}

	entityTable := "ingest_vendors"
	if kind == models.KindMaterial {
		entityTable = "ingest_materials"
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.name,
		       COALESCE(array_agg(a.text) FILTER (WHERE a.text IS NOT NULL), '{}')
		FROM %s e
		LEFT JOIN %s a ON a.%s = e.id
		GROUP BY e.id, e.name
		ORDER BY e.name`, entityTable, at.table, at.column)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s catalog: %w", kind, err)
	}
	defer rows.Close()

	var entries []*models.CatalogEntry
	for rows.Next() {
		entry := &models.CatalogEntry{Kind: kind}
		if err := rows.Scan(&entry.EntityID, &entry.Name, &entry.Aliases); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		entry.AliasCount = len(entry.Aliases)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog entries: %w", err)
	}

	return entries, nil
}

func (r *catalogRepository) CreateAlias(ctx context.Context, alias *models.Alias) error {
	at, ok := aliasTables[alias.Kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q", alias.Kind)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, text, source_doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (%s, text) DO NOTHING`, at.table, at.column, at.column)

	if _, err := r.db.Exec(ctx, query, alias.EntityID, alias.Text, alias.SourceDoc); err != nil {
		return fmt.Errorf("failed to create %s alias: %w", alias.Kind, err)
	}

	return nil
}

func (r *catalogRepository) PriceStats(ctx context.Context, materialID uuid.UUID) (*PriceStats, error) {
	query := `
		SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY unit_price), COUNT(*)
		FROM ingest_vendor_prices
		WHERE material_id = $1`

	var median *float64
	var samples int
	err := r.db.QueryRow(ctx, query, materialID).Scan(&median, &samples)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query price stats: %w", err)
	}
	if median == nil || samples == 0 {
		return nil, nil
	}

	return &PriceStats{MedianPrice: *median, Samples: samples}, nil
}

func (r *catalogRepository) CreateVendor(ctx context.Context, vendor *models.Vendor) error {
	query := `INSERT INTO ingest_vendors (name) VALUES ($1) RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, query, vendor.Name).Scan(&vendor.ID, &vendor.CreatedAt); err != nil {
		return fmt.Errorf("failed to create vendor: %w", err)
	}
	return nil
}

func (r *catalogRepository) CreateMaterial(ctx context.Context, material *models.Material) error {
	query := `INSERT INTO ingest_materials (name, unit) VALUES ($1, $2) RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, query, material.Name, material.Unit).Scan(&material.ID, &material.CreatedAt); err != nil {
		return fmt.Errorf("failed to create material: %w", err)
	}
	return nil
}
