package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
	"github.com/fabrica-inc/ingest-engine/pkg/services"
)

// mockUploadService is a configurable fake UploadService.
type mockUploadService struct {
	UploadFunc  func(ctx context.Context, req services.UploadRequest) (*models.Document, bool, error)
	UploadCalls int
	LastRequest services.UploadRequest
}

var _ services.UploadService = (*mockUploadService)(nil)

func (m *mockUploadService) Upload(ctx context.Context, req services.UploadRequest) (*models.Document, bool, error) {
	m.UploadCalls++
	m.LastRequest = req
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, req)
	}
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, false, err
	}
	return &models.Document{
		ID:       uuid.New(),
		Filename: req.Filename,
		MimeType: req.MimeType,
		ByteSize: int64(len(data)),
		Status:   models.DocumentUploaded,
	}, false, nil
}

// mockPipeline records enqueued document IDs.
type mockPipeline struct {
	Enqueued []uuid.UUID
}

var _ services.PipelineService = (*mockPipeline)(nil)

func (m *mockPipeline) Enqueue(documentID uuid.UUID) {
	m.Enqueued = append(m.Enqueued, documentID)
}

func (m *mockPipeline) Process(ctx context.Context, documentID uuid.UUID) error { return nil }

func (m *mockPipeline) Resume(ctx context.Context) error { return nil }

// mockClarifications is a configurable fake ClarificationService.
type mockClarifications struct {
	ListFunc    func(ctx context.Context) ([]*models.ExtractedItem, error)
	ResolveFunc func(ctx context.Context, itemID uuid.UUID, decision services.ClarificationDecision) error

	ResolveCalls int
	LastItemID   uuid.UUID
	LastDecision services.ClarificationDecision
}

var _ services.ClarificationService = (*mockClarifications)(nil)

func (m *mockClarifications) List(ctx context.Context) ([]*models.ExtractedItem, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *mockClarifications) Sweep(ctx context.Context) error { return nil }

func (m *mockClarifications) Resolve(ctx context.Context, itemID uuid.UUID, decision services.ClarificationDecision) error {
	m.ResolveCalls++
	m.LastItemID = itemID
	m.LastDecision = decision
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, itemID, decision)
	}
	return nil
}

// mockDocumentRepo backs the status endpoint with a fixed document set.
type mockDocumentRepo struct {
	docs   map[uuid.UUID]*models.Document
	GetErr error
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: make(map[uuid.UUID]*models.Document)}
}

var _ repositories.DocumentRepository = (*mockDocumentRepo)(nil)

func (m *mockDocumentRepo) Create(ctx context.Context, doc *models.Document) error {
	doc.ID = uuid.New()
	m.docs[doc.ID] = doc
	return nil
}

func (m *mockDocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

func (m *mockDocumentRepo) GetByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	return nil, nil
}

func (m *mockDocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, failureReason string) error {
	return nil
}

func (m *mockDocumentRepo) UpdateClassification(ctx context.Context, id uuid.UUID, docType models.DocumentType, confidence float64, language string) error {
	return nil
}

func (m *mockDocumentRepo) ListByStatus(ctx context.Context, status models.DocumentStatus) ([]*models.Document, error) {
	return nil, nil
}

// mockItemRepo serves items for the status endpoint.
type mockItemRepo struct {
	items map[uuid.UUID][]*models.ExtractedItem
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[uuid.UUID][]*models.ExtractedItem)}
}

var _ repositories.ItemRepository = (*mockItemRepo)(nil)

func (m *mockItemRepo) CommitBatch(ctx context.Context, documentID uuid.UUID, items []*models.ExtractedItem, prices []*models.PriceRecord) error {
	m.items[documentID] = items
	return nil
}

func (m *mockItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractedItem, error) {
	return nil, fmt.Errorf("item %s not found", id)
}

func (m *mockItemRepo) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.ExtractedItem, error) {
	return m.items[documentID], nil
}

func (m *mockItemRepo) ListClarifications(ctx context.Context) ([]*models.ExtractedItem, error) {
	return nil, nil
}

func (m *mockItemRepo) Resolve(ctx context.Context, itemID uuid.UUID, vendorID, materialID *uuid.UUID, confidence float64, price *models.PriceRecord) error {
	return nil
}

// mockEventRepo serves audit history for the status endpoint.
type mockEventRepo struct {
	events map[uuid.UUID][]*models.IngestEvent
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{events: make(map[uuid.UUID][]*models.IngestEvent)}
}

var _ repositories.EventRepository = (*mockEventRepo)(nil)

func (m *mockEventRepo) Append(ctx context.Context, event *models.IngestEvent) error {
	m.events[event.DocumentID] = append(m.events[event.DocumentID], event)
	return nil
}

func (m *mockEventRepo) History(ctx context.Context, documentID uuid.UUID) ([]*models.IngestEvent, error) {
	return m.events[documentID], nil
}

func (m *mockEventRepo) LastEvent(ctx context.Context, documentID uuid.UUID) (*models.IngestEvent, error) {
	evs := m.events[documentID]
	if len(evs) == 0 {
		return nil, nil
	}
	return evs[len(evs)-1], nil
}

func (m *mockEventRepo) CountAttempts(ctx context.Context, documentID uuid.UUID, stage models.Stage) (int, error) {
	return 0, nil
}
