package models

import (
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft               CampaignStatus = "draft"
	CampaignStatusQueued              CampaignStatus = "queued"
	CampaignStatusSending             CampaignStatus = "sending"
	CampaignStatusCompleted           CampaignStatus = "completed"
	CampaignStatusCompletedWithErrors CampaignStatus = "completed_with_errors"
	CampaignStatusCancelled           CampaignStatus = "cancelled"
)

// IsValid reports whether s is one of the known campaign statuses
func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusQueued, CampaignStatusSending,
		CampaignStatusCompleted, CampaignStatusCompletedWithErrors, CampaignStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted ||
		s == CampaignStatusCompletedWithErrors ||
		s == CampaignStatusCancelled
}

// IsActive reports whether jobs of a campaign in status s may be claimed
func (s CampaignStatus) IsActive() bool {
	return s == CampaignStatusQueued || s == CampaignStatusSending
}

// BlockStatus represents the resolution state of a message block
type BlockStatus string

const (
	BlockStatusDraft  BlockStatus = "draft"
	BlockStatusQueued BlockStatus = "queued"
)

// Campaign represents a campaign in the system
type Campaign struct {
	ID          int            `json:"id" db:"id"`
	DriveID     int            `json:"drive_id" db:"drive_id"`
	Name        string         `json:"name" db:"name"`
	CreatedBy   string         `json:"created_by,omitempty" db:"created_by"`
	Status      CampaignStatus `json:"status" db:"status"`
	Blocks      []MessageBlock `json:"blocks"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// MessageBlock is one templated message of a campaign with its own audience
type MessageBlock struct {
	ID              int         `json:"id" db:"id"`
	CampaignID      int         `json:"campaign_id" db:"campaign_id"`
	BlockOrder      int         `json:"block_order" db:"block_order"`
	Target          TargetSpec  `json:"target"`
	SubjectTemplate string      `json:"subject_template" db:"subject_template"`
	BodyTemplate    string      `json:"body_template" db:"body_template"`
	Status          BlockStatus `json:"status" db:"status"`
	ResolvedCount   *int        `json:"resolved_count,omitempty" db:"resolved_count"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// CanSend checks if campaign can be sent
func (c *Campaign) CanSend() bool {
	return c.Status == CampaignStatusDraft
}

// Block returns the block with the given 1-based order
func (c *Campaign) Block(order int) (*MessageBlock, bool) {
	for i := range c.Blocks {
		if c.Blocks[i].BlockOrder == order {
			return &c.Blocks[i], true
		}
	}
	return nil, false
}

// JobCounts aggregates send job states for a campaign or a block
type JobCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sending   int `json:"sending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	// Started counts jobs that were claimed at least once.
	Started int `json:"-"`
}

// NonTerminal returns the number of jobs that may still change state
func (c JobCounts) NonTerminal() int {
	return c.Pending + c.Sending
}

// Add returns the element-wise sum of c and o
func (c JobCounts) Add(o JobCounts) JobCounts {
	return JobCounts{
		Total:     c.Total + o.Total,
		Pending:   c.Pending + o.Pending,
		Sending:   c.Sending + o.Sending,
		Sent:      c.Sent + o.Sent,
		Failed:    c.Failed + o.Failed,
		Cancelled: c.Cancelled + o.Cancelled,
		Started:   c.Started + o.Started,
	}
}

// BlockCounts is the job count breakdown for one block
type BlockCounts struct {
	BlockID int
	JobCounts
}

// BlockReport is the progress view of one message block
type BlockReport struct {
	MessageBlock
	DisplayStatus CampaignStatus `json:"progress"`
	Counts        JobCounts      `json:"counts"`
}

// CampaignReport is the progress view of a campaign
type CampaignReport struct {
	ID          int            `json:"id"`
	DriveID     int            `json:"drive_id"`
	Name        string         `json:"name"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Status      CampaignStatus `json:"status"`
	Totals      JobCounts      `json:"totals"`
	Blocks      []BlockReport  `json:"blocks"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
