package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
	"github.com/fabrica-inc/ingest-engine/pkg/services"
)

// maxUploadBytes caps accepted upload size (32 MiB).
const maxUploadBytes = 32 << 20

// UploadResponse is returned for document uploads.
type UploadResponse struct {
	Document  *models.Document `json:"document"`
	Duplicate bool             `json:"duplicate"`
}

// DocumentStatusResponse is the status surface for one document: its row,
// extracted items, and the full audit history.
type DocumentStatusResponse struct {
	Document *models.Document        `json:"document"`
	Items    []*models.ExtractedItem `json:"items,omitempty"`
	History  []*models.IngestEvent   `json:"history"`
}

// DocumentsHandler handles upload and document status endpoints.
type DocumentsHandler struct {
	uploads   services.UploadService
	pipeline  services.PipelineService
	documents repositories.DocumentRepository
	items     repositories.ItemRepository
	events    repositories.EventRepository
	logger    *zap.Logger
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(
	uploads services.UploadService,
	pipeline services.PipelineService,
	documents repositories.DocumentRepository,
	items repositories.ItemRepository,
	events repositories.EventRepository,
	logger *zap.Logger,
) *DocumentsHandler {
	return &DocumentsHandler{
		uploads:   uploads,
		pipeline:  pipeline,
		documents: documents,
		items:     items,
		events:    events,
		logger:    logger.Named("documents-handler"),
	}
}

// RegisterRoutes registers the document routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.Upload)
	mux.HandleFunc("GET /api/documents/{did}", h.Status)
}

// Upload handles POST /api/documents. Multipart form with a "file" part and
// an optional "project_id" field. Identical bytes resolve to the existing
// document without reprocessing.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_multipart", "Request is not valid multipart form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_file", "Multipart field \"file\" is required")
		return
	}
	defer file.Close()

	var projectID *uuid.UUID
	if raw := r.FormValue("project_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
			return
		}
		projectID = &id
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	doc, duplicate, err := h.uploads.Upload(r.Context(), services.UploadRequest{
		Filename:  header.Filename,
		MimeType:  mimeType,
		ProjectID: projectID,
		Content:   file,
	})
	if err != nil {
		h.logger.Error("upload failed", zap.String("filename", header.Filename), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "upload_failed", "Failed to store upload")
		return
	}

	if !duplicate {
		h.pipeline.Enqueue(doc.ID)
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	if err := WriteJSON(w, status, UploadResponse{Document: doc, Duplicate: duplicate}); err != nil {
		h.logger.Error("Failed to encode upload response", zap.Error(err))
	}
}

// Status handles GET /api/documents/{did}: the document row, its committed
// items, and the complete audit history.
func (h *DocumentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	docID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	doc, err := h.documents.GetByID(r.Context(), docID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "document_not_found", "No document with that ID")
			return
		}
		h.logger.Error("failed to load document", zap.String("document_id", docID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "lookup_failed", "Failed to load document")
		return
	}

	items, err := h.items.GetByDocument(r.Context(), docID)
	if err != nil {
		h.logger.Error("failed to load items", zap.String("document_id", docID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "lookup_failed", "Failed to load extracted items")
		return
	}

	history, err := h.events.History(r.Context(), docID)
	if err != nil {
		h.logger.Error("failed to load history", zap.String("document_id", docID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "lookup_failed", "Failed to load event history")
		return
	}

	response := DocumentStatusResponse{Document: doc, Items: items, History: history}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}
