package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"placementmail/internal/logging"
	"placementmail/internal/models"
	"placementmail/internal/repository"
	"placementmail/internal/service"
)

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService *service.CampaignService
	logger          *zap.Logger
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
		logger:          logging.OrNop(logger),
	}
}

// Create handles POST /campaigns - creates a draft campaign with its blocks
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteCreated(w, campaign)
}

// List handles GET /campaigns - lists campaigns with filters
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, perPage := parsePaging(query.Get("page"), query.Get("per_page"))

	filters := repository.CampaignFilters{
		Page:     page,
		PageSize: perPage,
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.CampaignStatus(statusStr)
		if !status.IsValid() {
			WriteValidationError(w, "status", "must be one of draft, queued, sending, completed, completed_with_errors, cancelled")
			return
		}
		filters.Status = &status
	}

	if driveStr := query.Get("drive_id"); driveStr != "" {
		driveID, err := strconv.Atoi(driveStr)
		if err != nil || driveID <= 0 {
			WriteValidationError(w, "drive_id", "must be a positive integer")
			return
		}
		filters.DriveID = &driveID
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /campaigns/{id} - the campaign with per-block progress
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	report, err := h.campaignService.GetCampaignReport(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, report)
}

// Send handles POST /campaigns/{id}/send - resolves audiences and enqueues jobs
func (h *CampaignHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	result, err := h.campaignService.SendCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	if result.AlreadyQueued {
		WriteOK(w, result)
		return
	}
	WriteJSON(w, http.StatusAccepted, result)
}

// Cancel handles POST /campaigns/{id}/cancel
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	result, err := h.campaignService.CancelCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, result)
}

// ListJobs handles GET /campaigns/{id}/jobs
func (h *CampaignHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	query := r.URL.Query()
	page, perPage := parsePaging(query.Get("page"), query.Get("per_page"))
	filters := repository.JobFilters{Page: page, PageSize: perPage}

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.JobStatus(statusStr)
		filters.Status = &status
	}
	if blockStr := query.Get("block_id"); blockStr != "" {
		blockID, err := strconv.Atoi(blockStr)
		if err != nil || blockID <= 0 {
			WriteValidationError(w, "block_id", "must be a positive integer")
			return
		}
		filters.BlockID = &blockID
	}

	jobs, pagination, err := h.campaignService.ListJobs(r.Context(), id, filters)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, ListJobsResponse{Jobs: jobs, Pagination: pagination})
}

// ListDeliveries handles GET /jobs/{id}/deliveries
func (h *CampaignHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "id", "invalid job ID format")
		return
	}

	records, err := h.campaignService.ListDeliveries(r.Context(), jobID)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	WriteOK(w, ListDeliveriesResponse{JobID: jobID, Deliveries: records})
}

// pathID extracts and validates the {id} route variable
func pathID(w http.ResponseWriter, r *http.Request, resource string) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "id", "invalid "+resource+" ID format")
		return 0, false
	}
	if id <= 0 {
		WriteValidationError(w, "id", resource+" ID must be greater than 0")
		return 0, false
	}
	return id, true
}

// decodeBody parses a JSON body into dst. An empty body is accepted when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		if optional {
			return true
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
		return false
	}
	WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
	return false
}

func parsePaging(pageStr, perPageStr string) (int, int) {
	page := 1
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}

	perPage := 20
	if pp, err := strconv.Atoi(perPageStr); err == nil && pp > 0 {
		perPage = pp
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

// Request/Response types

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// ListJobsResponse represents the response for listing a campaign's jobs
type ListJobsResponse struct {
	Jobs       []*models.SendJob       `json:"jobs"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// ListDeliveriesResponse is the audit trail of one job
type ListDeliveriesResponse struct {
	JobID      uuid.UUID                `json:"job_id"`
	Deliveries []*models.DeliveryRecord `json:"deliveries"`
}
