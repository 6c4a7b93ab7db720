package service

import (
	"strings"

	"placementmail/internal/models"
)

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	DriveID   int            `json:"drive_id" validate:"gt=0"`
	Name      string         `json:"name" validate:"required,max=255"`
	CreatedBy string         `json:"created_by" validate:"max=255"`
	Blocks    []BlockRequest `json:"blocks" validate:"required,min=1,max=50,dive"`
}

// BlockRequest is one message block of a create request
type BlockRequest struct {
	Target  *models.TargetSpec `json:"target" validate:"required"`
	Subject string             `json:"subject" validate:"required,max=998"`
	Body    string             `json:"body" validate:"required"`
}

// normalize trims surrounding whitespace from free-text fields
func (r *CreateCampaignRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.CreatedBy = strings.TrimSpace(r.CreatedBy)
	for i := range r.Blocks {
		r.Blocks[i].Subject = strings.TrimSpace(r.Blocks[i].Subject)
		r.Blocks[i].Body = strings.TrimSpace(r.Blocks[i].Body)
	}
}

// SendCampaignResult represents the result of sending a campaign
type SendCampaignResult struct {
	CampaignID int                   `json:"campaign_id"`
	JobsQueued int                   `json:"jobs_queued"`
	Status     models.CampaignStatus `json:"status"`
	// AlreadyQueued is set when the campaign had been sent before
	AlreadyQueued bool              `json:"already_queued"`
	Blocks        []BlockResolution `json:"blocks,omitempty"`
}

// BlockResolution reports the audience size of one block at send time
type BlockResolution struct {
	BlockOrder int   `json:"block_order"`
	Recipients int   `json:"recipients"`
	Dropped    []int `json:"dropped_ids,omitempty"`
}

// CancelCampaignResult represents the result of cancelling a campaign
type CancelCampaignResult struct {
	CampaignID    int                   `json:"campaign_id"`
	Status        models.CampaignStatus `json:"status"`
	JobsCancelled int                   `json:"jobs_cancelled"`
}

// ResolveRecipientsRequest asks how many applicants a target spec matches
type ResolveRecipientsRequest struct {
	Target *models.TargetSpec `json:"target"`
}

// RecipientPreview is the result of a recipient count preview
type RecipientPreview struct {
	DriveID int                `json:"drive_id"`
	Count   int                `json:"count"`
	Dropped []int              `json:"dropped_ids,omitempty"`
	Sample  []models.Recipient `json:"sample"`
}

// PreviewEmailRequest represents a request to preview a rendered email
type PreviewEmailRequest struct {
	// BlockOrder defaults to the first block
	BlockOrder int `json:"block_order"`
	// RecipientID defaults to the first recipient of the block
	RecipientID     *int    `json:"recipient_id,omitempty"`
	SubjectOverride *string `json:"subject_override,omitempty"`
	BodyOverride    *string `json:"body_override,omitempty"`
}

// EmailPreview represents a rendered email for one recipient
type EmailPreview struct {
	CampaignID          int              `json:"campaign_id"`
	BlockOrder          int              `json:"block_order"`
	Recipient           models.Recipient `json:"recipient"`
	Subject             string           `json:"subject"`
	Body                string           `json:"body"`
	UnknownPlaceholders []string         `json:"unknown_placeholders"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func newPagination(page, pageSize, total int) *PaginationInfo {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page < 1 {
		page = 1
	}
	return &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}
