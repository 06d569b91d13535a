package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/fabrica-inc/ingest-engine/pkg/contentstore"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
)

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

// mockDocumentRepo is an in-memory DocumentRepository.
type mockDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document

	CreateErr       error
	UpdateStatusErr error
	CreateCalls     int
	StatusUpdates   []models.DocumentStatus

	// GetByHashQueue overrides GetByHash per call when non-empty.
	GetByHashQueue []*models.Document
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: make(map[uuid.UUID]*models.Document)}
}

var _ repositories.DocumentRepository = (*mockDocumentRepo)(nil)

func (m *mockDocumentRepo) Create(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	doc.ID = uuid.New()
	clone := *doc
	m.docs[doc.ID] = &clone
	return nil
}

func (m *mockDocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	clone := *doc
	return &clone, nil
}

func (m *mockDocumentRepo) GetByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.GetByHashQueue) > 0 {
		next := m.GetByHashQueue[0]
		m.GetByHashQueue = m.GetByHashQueue[1:]
		return next, nil
	}
	for _, doc := range m.docs {
		if doc.ContentHash == contentHash {
			clone := *doc
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *mockDocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateStatusErr != nil {
		return m.UpdateStatusErr
	}
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Status = status
	doc.FailureReason = failureReason
	m.StatusUpdates = append(m.StatusUpdates, status)
	return nil
}

func (m *mockDocumentRepo) UpdateClassification(ctx context.Context, id uuid.UUID, docType models.DocumentType, confidence float64, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.DocType = docType
	doc.TypeConfidence = confidence
	doc.Language = language
	return nil
}

func (m *mockDocumentRepo) ListByStatus(ctx context.Context, status models.DocumentStatus) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Document
	for _, doc := range m.docs {
		if doc.Status == status {
			clone := *doc
			out = append(out, &clone)
		}
	}
	return out, nil
}

// add seeds a document and returns it.
func (m *mockDocumentRepo) add(doc *models.Document) *models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	m.docs[doc.ID] = doc
	return doc
}

// mockChunkRepo is an in-memory ChunkRepository.
type mockChunkRepo struct {
	mu     sync.Mutex
	chunks map[uuid.UUID][]*models.Chunk

	ReplaceCalls int
	ReplaceErr   error
}

func newMockChunkRepo() *mockChunkRepo {
	return &mockChunkRepo{chunks: make(map[uuid.UUID][]*models.Chunk)}
}

var _ repositories.ChunkRepository = (*mockChunkRepo)(nil)

func (m *mockChunkRepo) ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaceCalls++
	if m.ReplaceErr != nil {
		return m.ReplaceErr
	}
	for _, c := range chunks {
		c.ID = uuid.New()
		c.DocumentID = documentID
	}
	m.chunks[documentID] = chunks
	return nil
}

func (m *mockChunkRepo) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks[documentID], nil
}

// mockItemRepo is an in-memory ItemRepository.
type mockItemRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID][]*models.ExtractedItem // by document

	CommitCalls  int
	CommitErr    error
	LastPrices   []*models.PriceRecord
	ResolveCalls int
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[uuid.UUID][]*models.ExtractedItem)}
}

var _ repositories.ItemRepository = (*mockItemRepo)(nil)

func (m *mockItemRepo) CommitBatch(ctx context.Context, documentID uuid.UUID, items []*models.ExtractedItem, prices []*models.PriceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls++
	if m.CommitErr != nil {
		return m.CommitErr
	}
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.DocumentID = documentID
	}
	m.items[documentID] = items
	m.LastPrices = prices
	return nil
}

func (m *mockItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, items := range m.items {
		for _, it := range items {
			if it.ID == id {
				return it, nil
			}
		}
	}
	return nil, fmt.Errorf("item %s not found", id)
}

func (m *mockItemRepo) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.ExtractedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[documentID], nil
}

func (m *mockItemRepo) ListClarifications(ctx context.Context) ([]*models.ExtractedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExtractedItem
	for _, items := range m.items {
		for _, it := range items {
			if it.NeedsClarification {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

func (m *mockItemRepo) Resolve(ctx context.Context, itemID uuid.UUID, vendorID, materialID *uuid.UUID, confidence float64, price *models.PriceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResolveCalls++
	for _, items := range m.items {
		for _, it := range items {
			if it.ID == itemID {
				if vendorID != nil {
					it.VendorID = vendorID
				}
				if materialID != nil {
					it.MaterialID = materialID
				}
				it.Confidence = confidence
				it.NeedsClarification = false
				it.ClarifyReasons = nil
				if price != nil {
					m.LastPrices = append(m.LastPrices, price)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("item %s not found", itemID)
}

// mockCatalogRepo is an in-memory CatalogRepository.
type mockCatalogRepo struct {
	mu        sync.Mutex
	vendors   []*models.CatalogEntry
	materials []*models.CatalogEntry
	stats     map[uuid.UUID]*repositories.PriceStats

	Aliases       []*models.Alias
	PriceStatsErr error
}

func newMockCatalogRepo() *mockCatalogRepo {
	return &mockCatalogRepo{stats: make(map[uuid.UUID]*repositories.PriceStats)}
}

var _ repositories.CatalogRepository = (*mockCatalogRepo)(nil)

func (m *mockCatalogRepo) ListEntries(ctx context.Context, kind models.EntityKind) ([]*models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == models.KindVendor {
		return m.vendors, nil
	}
	return m.materials, nil
}

func (m *mockCatalogRepo) CreateAlias(ctx context.Context, alias *models.Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Aliases = append(m.Aliases, alias)
	for _, entries := range [][]*models.CatalogEntry{m.vendors, m.materials} {
		for _, e := range entries {
			if e.EntityID == alias.EntityID {
				e.Aliases = append(e.Aliases, alias.Text)
				e.AliasCount = len(e.Aliases)
			}
		}
	}
	return nil
}

func (m *mockCatalogRepo) PriceStats(ctx context.Context, materialID uuid.UUID) (*repositories.PriceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceStatsErr != nil {
		return nil, m.PriceStatsErr
	}
	return m.stats[materialID], nil
}

func (m *mockCatalogRepo) CreateVendor(ctx context.Context, vendor *models.Vendor) error {
	vendor.ID = uuid.New()
	m.vendors = append(m.vendors, &models.CatalogEntry{
		EntityID: vendor.ID, Kind: models.KindVendor, Name: vendor.Name,
	})
	return nil
}

func (m *mockCatalogRepo) CreateMaterial(ctx context.Context, material *models.Material) error {
	material.ID = uuid.New()
	m.materials = append(m.materials, &models.CatalogEntry{
		EntityID: material.ID, Kind: models.KindMaterial, Name: material.Name,
	})
	return nil
}

// addEntry seeds a catalog entry.
func (m *mockCatalogRepo) addEntry(kind models.EntityKind, name string, aliases ...string) *models.CatalogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &models.CatalogEntry{
		EntityID:   uuid.New(),
		Kind:       kind,
		Name:       name,
		Aliases:    aliases,
		AliasCount: len(aliases),
	}
	if kind == models.KindVendor {
		m.vendors = append(m.vendors, entry)
	} else {
		m.materials = append(m.materials, entry)
	}
	return entry
}

// mockEventRepo is an in-memory EventRepository.
type mockEventRepo struct {
	mu     sync.Mutex
	events []*models.IngestEvent

	AppendErr error
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{}
}

var _ repositories.EventRepository = (*mockEventRepo)(nil)

func (m *mockEventRepo) Append(ctx context.Context, event *models.IngestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	event.ID = uuid.New()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventRepo) History(ctx context.Context, documentID uuid.UUID) ([]*models.IngestEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.IngestEvent
	for _, ev := range m.events {
		if ev.DocumentID == documentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockEventRepo) LastEvent(ctx context.Context, documentID uuid.UUID) (*models.IngestEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].DocumentID == documentID {
			return m.events[i], nil
		}
	}
	return nil, nil
}

func (m *mockEventRepo) CountAttempts(ctx context.Context, documentID uuid.UUID, stage models.Stage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, ev := range m.events {
		if ev.DocumentID == documentID && ev.Stage == stage && ev.Status == models.EventStart {
			count++
		}
	}
	return count, nil
}

// byStage returns events for a document and stage, in order.
func (m *mockEventRepo) byStage(documentID uuid.UUID, stage models.Stage) []*models.IngestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.IngestEvent
	for _, ev := range m.events {
		if ev.DocumentID == documentID && ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}

// mockStore is an in-memory content store.
type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutCalls int
	PutErr   error
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte)}
}

var _ contentstore.Store = (*mockStore)(nil)

func (m *mockStore) Put(ctx context.Context, contentHash string, content io.Reader) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.PutErr != nil {
		return "", m.PutErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	if _, ok := m.objects[contentHash]; !ok {
		m.objects[contentHash] = data
	}
	return contentHash, nil
}

func (m *mockStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return io.NopCloser(bytesReader(data)), nil
}

func bytesReader(b []byte) io.Reader {
	return &byteSliceReader{data: b}
}

type byteSliceReader struct {
	data []byte
	off  int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}
