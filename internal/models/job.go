package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents valid send job statuses
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSending   JobStatus = "sending"
	JobStatusSent      JobStatus = "sent"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid reports whether s is a known job status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusSending, JobStatusSent, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a job in status s will never change again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSent || s == JobStatusFailed || s == JobStatusCancelled
}

// FailureReason classifies why a job ended failed
type FailureReason string

const (
	FailureRender             FailureReason = "RENDER_ERROR"
	FailureTransportPermanent FailureReason = "TRANSPORT_PERMANENT"
	FailureRetriesExhausted   FailureReason = "RETRIES_EXHAUSTED"
	// FailureCampaignCancelled marks a transient failure that cannot be
	// retried because the campaign was cancelled during the send
	FailureCampaignCancelled FailureReason = "CAMPAIGN_CANCELLED"
)

// jobNamespace scopes deterministic job IDs.
var jobNamespace = uuid.MustParse("6f1c7a52-4a0e-4d43-9a8e-2f6b0c1d9e57")

// JobID derives the ID of the job for (blockID, recipientID). Enqueueing the
// same pair twice yields the same ID.
func JobID(blockID, recipientID int) uuid.UUID {
	return uuid.NewSHA1(jobNamespace, []byte(fmt.Sprintf("%d:%d", blockID, recipientID)))
}

// SendJob represents the delivery of one block to one recipient
type SendJob struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	CampaignID      int               `json:"campaign_id" db:"campaign_id"`
	BlockID         int               `json:"block_id" db:"block_id"`
	RecipientID     int               `json:"recipient_id" db:"recipient_id"`
	RecipientEmail  string            `json:"recipient_email" db:"recipient_email"`
	RecipientName   string            `json:"recipient_name" db:"recipient_name"`
	Variables       map[string]string `json:"-" db:"variables"`
	RenderedSubject *string           `json:"rendered_subject,omitempty" db:"rendered_subject"`
	RenderedBody    *string           `json:"-" db:"rendered_body"`
	Status          JobStatus         `json:"status" db:"status"`
	Attempts        int               `json:"attempts" db:"attempts"`
	LastError       *string           `json:"last_error,omitempty" db:"last_error"`
	FailureReason   *FailureReason    `json:"failure_reason,omitempty" db:"failure_reason"`
	AvailableAt     time.Time         `json:"available_at" db:"available_at"`
	LeaseToken      *uuid.UUID        `json:"-" db:"lease_token"`
	LeasedUntil     *time.Time        `json:"leased_until,omitempty" db:"leased_until"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// IsRendered reports whether subject and body were already materialized
func (j *SendJob) IsRendered() bool {
	return j.RenderedSubject != nil && j.RenderedBody != nil
}

// DeliveryOutcome is the result of one transport attempt
type DeliveryOutcome string

const (
	OutcomeSent   DeliveryOutcome = "sent"
	OutcomeRetry  DeliveryOutcome = "retry"
	OutcomeFailed DeliveryOutcome = "failed"
)

// DeliveryRecord is an append-only audit entry for one attempt
type DeliveryRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	JobID     uuid.UUID       `json:"job_id" db:"job_id"`
	Attempt   int             `json:"attempt" db:"attempt"`
	Outcome   DeliveryOutcome `json:"outcome" db:"outcome"`
	Error     *string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
