package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"placementmail/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDriveNotFound is returned by the directory for unknown drives
	ErrDriveNotFound = errors.New("drive not found")
	// ErrLeaseLost is returned when a job update presents a lease token that
	// no longer owns the job (the lease expired and another worker claimed it)
	ErrLeaseLost = errors.New("job lease lost")
	// ErrStatusConflict is returned when a guarded campaign status update
	// finds the campaign in a different status than expected
	ErrStatusConflict = errors.New("campaign status changed concurrently")
	// ErrCampaignClosed is returned by Release when the lease is still held
	// but the job's campaign no longer accepts deliveries
	ErrCampaignClosed = errors.New("campaign no longer accepts deliveries")
)

// ApplicantDirectory is the read-only view of drives and their applicants
type ApplicantDirectory interface {
	GetDrive(ctx context.Context, driveID int) (*models.Drive, error)
	ListApplicants(ctx context.Context, driveID int) ([]models.Applicant, error)
}

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int) (*models.Campaign, error)
	GetBlock(ctx context.Context, blockID int) (*models.MessageBlock, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	ListActive(ctx context.Context) ([]int, error)
	// UpdateStatus moves a campaign from one status to another and returns
	// ErrStatusConflict when the campaign is not in from.
	UpdateStatus(ctx context.Context, id int, from, to models.CampaignStatus) error
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	DriveID  *int
	Status   *models.CampaignStatus
}

// DispatchPlan is everything enqueued when a campaign starts sending
type DispatchPlan struct {
	CampaignID int
	Blocks     []ResolvedBlock
	Jobs       []*models.SendJob
}

// ResolvedBlock records how many recipients a block resolved to
type ResolvedBlock struct {
	BlockID int
	Count   int
}

// JobRepository is the durable dispatch queue of send jobs
type JobRepository interface {
	// Enqueue inserts jobs, skipping any whose ID already exists
	Enqueue(ctx context.Context, jobs []*models.SendJob) (int, error)
	// EnqueueCampaign enqueues a plan and moves the campaign from draft to
	// queued in one transaction
	EnqueueCampaign(ctx context.Context, plan DispatchPlan) (int, error)
	// Claim leases the next visible job, or returns nil when none is claimable
	Claim(ctx context.Context, lease time.Duration) (*models.SendJob, error)
	SaveRendered(ctx context.Context, job *models.SendJob, subject, body string) error
	MarkSent(ctx context.Context, job *models.SendJob, attempts int) error
	MarkFailed(ctx context.Context, job *models.SendJob, attempts int, reason models.FailureReason, lastError string) error
	// Release returns a leased job to pending, visible again at availableAt.
	// It returns ErrCampaignClosed when the campaign was cancelled meanwhile.
	Release(ctx context.Context, job *models.SendJob, attempts int, availableAt time.Time, lastError string) error
	// MarkCancelled ends a leased job that was never attempted
	MarkCancelled(ctx context.Context, job *models.SendJob, reason string) error
	CancelCampaign(ctx context.Context, campaignID int, from models.CampaignStatus) (int, error)
	// CancelAbandoned cancels pending jobs and expired leases of cancelled
	// campaigns
	CancelAbandoned(ctx context.Context) (int, error)
	Counts(ctx context.Context, campaignID int) ([]models.BlockCounts, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SendJob, error)
	ListByCampaign(ctx context.Context, campaignID int, filters JobFilters) ([]*models.SendJob, int, error)
}

// JobFilters defines filters for listing send jobs
type JobFilters struct {
	Page     int
	PageSize int
	Status   *models.JobStatus
	BlockID  *int
}

// DeliveryRepository is the append-only delivery audit log
type DeliveryRepository interface {
	Append(ctx context.Context, record *models.DeliveryRecord) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.DeliveryRecord, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// pageBounds normalizes page/pageSize into LIMIT and OFFSET
func pageBounds(page, pageSize int) (int, int) {
	limit := pageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
