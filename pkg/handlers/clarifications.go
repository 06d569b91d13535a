package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/services"
)

// ResolveClarificationRequest is a human decision for one flagged item.
type ResolveClarificationRequest struct {
	VendorID   *uuid.UUID `json:"vendor_id,omitempty"`
	MaterialID *uuid.UUID `json:"material_id,omitempty"`
	Confidence float64    `json:"confidence"`
}

// ClarificationsHandler exposes the human review queue.
type ClarificationsHandler struct {
	clarifications services.ClarificationService
	logger         *zap.Logger
}

// NewClarificationsHandler creates a new ClarificationsHandler.
func NewClarificationsHandler(clarifications services.ClarificationService, logger *zap.Logger) *ClarificationsHandler {
	return &ClarificationsHandler{
		clarifications: clarifications,
		logger:         logger.Named("clarifications-handler"),
	}
}

// RegisterRoutes registers the clarification routes on the given mux.
func (h *ClarificationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/clarifications", h.List)
	mux.HandleFunc("POST /api/clarifications/{iid}/resolve", h.Resolve)
}

// List handles GET /api/clarifications: every item awaiting human review,
// with its reasons and provisional resolution.
func (h *ClarificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.clarifications.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list clarifications", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "lookup_failed", "Failed to list clarifications")
		return
	}
	if items == nil {
		items = []*models.ExtractedItem{}
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"items": items}); err != nil {
		h.logger.Error("Failed to encode clarifications response", zap.Error(err))
	}
}

// Resolve handles POST /api/clarifications/{iid}/resolve.
func (h *ClarificationsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	itemID, ok := ParseItemID(w, r, h.logger)
	if !ok {
		return
	}

	var req ResolveClarificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_confidence", "Confidence must be between 0 and 1")
		return
	}

	err := h.clarifications.Resolve(r.Context(), itemID, services.ClarificationDecision{
		VendorID:   req.VendorID,
		MaterialID: req.MaterialID,
		Confidence: req.Confidence,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "clarification_not_found", "No pending clarification for that item")
			return
		}
		h.logger.Error("failed to resolve clarification", zap.String("item_id", itemID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "resolve_failed", "Failed to resolve clarification")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
