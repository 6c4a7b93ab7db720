package handler

import (
	"net/http"

	"go.uber.org/zap"

	"placementmail/internal/logging"
	"placementmail/internal/service"
)

// PreviewHandler handles audience counts and rendered email previews.
// Nothing here enqueues or sends.
type PreviewHandler struct {
	campaignService *service.CampaignService
	logger          *zap.Logger
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(campaignService *service.CampaignService, logger *zap.Logger) *PreviewHandler {
	return &PreviewHandler{
		campaignService: campaignService,
		logger:          logging.OrNop(logger),
	}
}

// ResolveRecipients handles POST /drives/{id}/resolve-recipients
func (h *PreviewHandler) ResolveRecipients(w http.ResponseWriter, r *http.Request) {
	driveID, ok := pathID(w, r, "drive")
	if !ok {
		return
	}

	var req service.ResolveRecipientsRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	preview, err := h.campaignService.PreviewRecipients(r.Context(), driveID, &req)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, preview)
}

// PreviewEmail handles POST /campaigns/{id}/preview-email. The body is
// optional; an empty one previews block 1 for its first recipient.
func (h *PreviewHandler) PreviewEmail(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	var req service.PreviewEmailRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if req.BlockOrder < 0 {
		WriteValidationError(w, "block_order", "must be positive")
		return
	}

	preview, err := h.campaignService.PreviewEmail(r.Context(), campaignID, &req)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, preview)
}
