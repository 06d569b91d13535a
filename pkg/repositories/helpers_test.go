package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/testhelpers"
)

// testDB returns the shared migrated database for integration tests.
func testDB(t *testing.T) *database.DB {
	t.Helper()
	return testhelpers.GetTestDB(t).DB
}

// createTestDocument inserts a document with a unique content hash. The
// shared container is reused across tests, so fixtures never collide on
// constant values.
func createTestDocument(t *testing.T, db *database.DB) *models.Document {
	t.Helper()
	doc := &models.Document{
		Filename:    "fixture.pdf",
		MimeType:    "application/pdf",
		ByteSize:    128,
		StoragePath: "ab/" + uuid.NewString(),
		ContentHash: uuid.NewString(),
		DocType:     models.DocTypeOther,
		Status:      models.DocumentUploaded,
	}
	require.NoError(t, NewDocumentRepository(db).Create(context.Background(), doc))
	return doc
}

// createTestVendor inserts a vendor with a unique name.
func createTestVendor(t *testing.T, db *database.DB, label string) *models.Vendor {
	t.Helper()
	vendor := &models.Vendor{Name: fmt.Sprintf("%s %s", label, uuid.NewString()[:8])}
	require.NoError(t, NewCatalogRepository(db).CreateVendor(context.Background(), vendor))
	return vendor
}

// createTestMaterial inserts a material with a unique name.
func createTestMaterial(t *testing.T, db *database.DB, label string) *models.Material {
	t.Helper()
	material := &models.Material{Name: fmt.Sprintf("%s %s", label, uuid.NewString()[:8]), Unit: "pcs"}
	require.NoError(t, NewCatalogRepository(db).CreateMaterial(context.Background(), material))
	return material
}

// findEntry locates a catalog entry by entity ID.
func findEntry(entries []*models.CatalogEntry, entityID uuid.UUID) *models.CatalogEntry {
	for _, e := range entries {
		if e.EntityID == entityID {
			return e
		}
	}
	return nil
}
