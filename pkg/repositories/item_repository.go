package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
)

// ItemRepository persists extracted items and vendor price history.
type ItemRepository interface {
	// CommitBatch replaces a document's extracted items and records the
	// given price history rows in a single transaction. A retried commit
	// replaces the previous rows instead of appending to them.
	CommitBatch(ctx context.Context, documentID uuid.UUID, items []*models.ExtractedItem, prices []*models.PriceRecord) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractedItem, error)
	GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.ExtractedItem, error)

	// ListClarifications returns all committed items still flagged for
	// human review, oldest first.
	ListClarifications(ctx context.Context) ([]*models.ExtractedItem, error)

	// Resolve applies a human clarification decision to an item and, when a
	// price record accompanies the resolution, records it in the same
	// transaction.
	Resolve(ctx context.Context, itemID uuid.UUID, vendorID, materialID *uuid.UUID, confidence float64, price *models.PriceRecord) error
}

type itemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new ItemRepository.
func NewItemRepository(db *database.DB) ItemRepository {
	return &itemRepository{db: db}
}

var _ ItemRepository = (*itemRepository)(nil)

const itemColumns = `id, document_id, project_id, type, vendor_id, material_id, vendor_text, material_text,
	title, quantity, unit, unit_price, tax_percent, lead_time, attrs, source,
	confidence, needs_clarification, clarify_reasons, occurred_at, created_at`

func (r *itemRepository) CommitBatch(ctx context.Context, documentID uuid.UUID, items []*models.ExtractedItem, prices []*models.PriceRecord) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ingest_extracted_items WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("failed to clear previous items: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM ingest_vendor_prices WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("failed to clear previous price records: %w", err)
		}

		for _, item := range items {
			attrs, source, reasons, err := marshalItemJSON(item)
			if err != nil {
				return err
			}

			err = tx.QueryRow(ctx, `
				INSERT INTO ingest_extracted_items (
					document_id, project_id, type, vendor_id, material_id, vendor_text, material_text,
					title, quantity, unit, unit_price, tax_percent, lead_time, attrs, source,
					confidence, needs_clarification, clarify_reasons, occurred_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
				RETURNING id, created_at`,
				documentID, item.ProjectID, item.Type, item.VendorID, item.MaterialID,
				item.VendorText, item.MaterialText,
				item.Title, item.Quantity, item.Unit, item.UnitPrice, item.TaxPercent, item.LeadTime,
				attrs, source,
				item.Confidence, item.NeedsClarification, reasons, item.OccurredAt,
			).Scan(&item.ID, &item.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert extracted item: %w", err)
			}
			item.DocumentID = documentID
		}

		for _, price := range prices {
			if err := insertPrice(ctx, tx, price); err != nil {
				return err
			}
		}

		return nil
	})
}

func insertPrice(ctx context.Context, q database.Querier, price *models.PriceRecord) error {
	err := q.QueryRow(ctx, `
		INSERT INTO ingest_vendor_prices (vendor_id, material_id, unit_price, unit, document_id, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		price.VendorID, price.MaterialID, price.UnitPrice, price.Unit, price.DocumentID, price.ObservedAt,
	).Scan(&price.ID, &price.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert price record: %w", err)
	}
	return nil
}

func (r *itemRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM ingest_extracted_items WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("extracted item %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get extracted item: %w", err)
	}

	return item, nil
}

func (r *itemRepository) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.ExtractedItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM ingest_extracted_items
		WHERE document_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query extracted items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func (r *itemRepository) ListClarifications(ctx context.Context) ([]*models.ExtractedItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM ingest_extracted_items
		WHERE needs_clarification
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query clarifications: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func (r *itemRepository) Resolve(ctx context.Context, itemID uuid.UUID, vendorID, materialID *uuid.UUID, confidence float64, price *models.PriceRecord) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE ingest_extracted_items
			SET vendor_id = COALESCE($2, vendor_id),
			    material_id = COALESCE($3, material_id),
			    confidence = $4,
			    needs_clarification = FALSE,
			    clarify_reasons = NULL
			WHERE id = $1 AND needs_clarification`,
			itemID, vendorID, materialID, confidence)
		if err != nil {
			return fmt.Errorf("failed to resolve item: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("item %s has no pending clarification: %w", itemID, apperrors.ErrNotFound)
		}

		if price != nil {
			if err := insertPrice(ctx, tx, price); err != nil {
				return err
			}
		}

		return nil
	})
}

func marshalItemJSON(item *models.ExtractedItem) (attrs, source, reasons []byte, err error) {
	if item.Attrs != nil {
		if attrs, err = json.Marshal(item.Attrs); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal item attrs: %w", err)
		}
	}
	if source, err = json.Marshal(item.Source); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal item source: %w", err)
	}
	if item.ClarifyReasons != nil {
		if reasons, err = json.Marshal(item.ClarifyReasons); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal clarify reasons: %w", err)
		}
	}
	return attrs, source, reasons, nil
}

func collectItems(rows pgx.Rows) ([]*models.ExtractedItem, error) {
	var items []*models.ExtractedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extracted item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extracted items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (*models.ExtractedItem, error) {
	item := &models.ExtractedItem{}
	var attrs, source, reasons []byte

	err := row.Scan(
		&item.ID, &item.DocumentID, &item.ProjectID, &item.Type, &item.VendorID, &item.MaterialID,
		&item.VendorText, &item.MaterialText,
		&item.Title, &item.Quantity, &item.Unit, &item.UnitPrice, &item.TaxPercent, &item.LeadTime,
		&attrs, &source,
		&item.Confidence, &item.NeedsClarification, &reasons, &item.OccurredAt, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &item.Attrs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item attrs: %w", err)
		}
	}
	if len(source) > 0 {
		if err := json.Unmarshal(source, &item.Source); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item source: %w", err)
		}
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &item.ClarifyReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal clarify reasons: %w", err)
		}
	}

	return item, nil
}
