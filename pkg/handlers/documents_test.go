package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/services"
)

type documentsFixture struct {
	handler  *DocumentsHandler
	mux      *http.ServeMux
	uploads  *mockUploadService
	pipeline *mockPipeline
	docs     *mockDocumentRepo
	items    *mockItemRepo
	events   *mockEventRepo
}

func newDocumentsFixture(t *testing.T) *documentsFixture {
	t.Helper()
	f := &documentsFixture{
		uploads:  &mockUploadService{},
		pipeline: &mockPipeline{},
		docs:     newMockDocumentRepo(),
		items:    newMockItemRepo(),
		events:   newMockEventRepo(),
	}
	f.handler = NewDocumentsHandler(f.uploads, f.pipeline, f.docs, f.items, f.events, zap.NewNop())
	f.mux = http.NewServeMux()
	f.handler.RegisterRoutes(f.mux)
	return f
}

// multipartUpload builds a multipart request body with a "file" part and
// optional extra fields.
func multipartUpload(t *testing.T, filename, contentType, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestDocumentsHandler_Upload(t *testing.T) {
	f := newDocumentsFixture(t)

	body, contentType := multipartUpload(t, "quote.pdf", "application/pdf", "file bytes", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	f.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Duplicate)
	assert.Equal(t, "quote.pdf", resp.Document.Filename)
	assert.Equal(t, "application/pdf", resp.Document.MimeType)

	// New documents enter the pipeline.
	require.Len(t, f.pipeline.Enqueued, 1)
	assert.Equal(t, resp.Document.ID, f.pipeline.Enqueued[0])
}

func TestDocumentsHandler_UploadDuplicateNotReprocessed(t *testing.T) {
	f := newDocumentsFixture(t)
	existing := &models.Document{ID: uuid.New(), Filename: "original.pdf", Status: models.DocumentCommitted}
	f.uploads.UploadFunc = func(ctx context.Context, req services.UploadRequest) (*models.Document, bool, error) {
		return existing, true, nil
	}

	body, contentType := multipartUpload(t, "copy.pdf", "application/pdf", "same bytes", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	f.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)
	assert.Equal(t, existing.ID, resp.Document.ID)

	// Duplicates never re-enter the pipeline.
	assert.Empty(t, f.pipeline.Enqueued)
}

func TestDocumentsHandler_UploadWithProjectID(t *testing.T) {
	f := newDocumentsFixture(t)
	projectID := uuid.New()

	body, contentType := multipartUpload(t, "quote.pdf", "", "file bytes",
		map[string]string{"project_id": projectID.String()})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	f.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.uploads.LastRequest.ProjectID)
	assert.Equal(t, projectID, *f.uploads.LastRequest.ProjectID)
	// Missing part content type defaults to octet-stream.
	assert.Equal(t, "application/octet-stream", f.uploads.LastRequest.MimeType)
}

func TestDocumentsHandler_UploadBadRequests(t *testing.T) {
	f := newDocumentsFixture(t)

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("plain body"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_multipart")
	})

	t.Run("missing file part", func(t *testing.T) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		require.NoError(t, writer.WriteField("project_id", uuid.New().String()))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing_file")
	})

	t.Run("bad project id", func(t *testing.T) {
		body, contentType := multipartUpload(t, "q.pdf", "", "bytes",
			map[string]string{"project_id": "not-a-uuid"})
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_project_id")
	})
}

func TestDocumentsHandler_UploadFailure(t *testing.T) {
	f := newDocumentsFixture(t)
	f.uploads.UploadFunc = func(ctx context.Context, req services.UploadRequest) (*models.Document, bool, error) {
		return nil, false, assert.AnError
	}

	body, contentType := multipartUpload(t, "q.pdf", "", "bytes", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "upload_failed")
	assert.Empty(t, f.pipeline.Enqueued)
}

func TestDocumentsHandler_Status(t *testing.T) {
	f := newDocumentsFixture(t)
	doc := &models.Document{Status: models.DocumentClarifying, Filename: "quote.pdf"}
	require.NoError(t, f.docs.Create(context.Background(), doc))
	f.items.items[doc.ID] = []*models.ExtractedItem{
		{ID: uuid.New(), DocumentID: doc.ID, Title: "Plywood", NeedsClarification: true},
	}
	require.NoError(t, f.events.Append(context.Background(), &models.IngestEvent{
		DocumentID: doc.ID, Stage: models.StageUpload, Status: models.EventOK,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID.String(), nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DocumentStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, doc.ID, resp.Document.ID)
	assert.Equal(t, models.DocumentClarifying, resp.Document.Status)
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].NeedsClarification)
	require.Len(t, resp.History, 1)
	assert.Equal(t, models.StageUpload, resp.History[0].Stage)
}

func TestDocumentsHandler_StatusNotFound(t *testing.T) {
	f := newDocumentsFixture(t)
	f.docs.GetErr = apperrors.ErrNotFound

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "document_not_found")
}

func TestDocumentsHandler_StatusInvalidID(t *testing.T) {
	f := newDocumentsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_document_id")
}
