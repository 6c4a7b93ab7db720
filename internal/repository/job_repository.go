package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"placementmail/internal/models"
)

type jobRepository struct {
	db *sql.DB
}

// NewJobRepository creates the Postgres-backed dispatch queue
func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

// Enqueue inserts jobs in one transaction. Rows whose ID (or block and
// recipient pair) already exist are skipped; the count of new rows is returned.
func (r *jobRepository) Enqueue(ctx context.Context, jobs []*models.SendJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertJobs(ctx, tx, jobs)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// EnqueueCampaign enqueues every job of the plan, records per-block resolved
// counts and moves the campaign from draft to queued atomically. It returns
// ErrStatusConflict, leaving nothing enqueued, when the campaign is no
// longer a draft.
func (r *jobRepository) EnqueueCampaign(ctx context.Context, plan DispatchPlan) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Taking the campaign row first serializes concurrent send requests.
	if err := updateCampaignStatus(ctx, tx, plan.CampaignID, models.CampaignStatusDraft, models.CampaignStatusQueued); err != nil {
		return 0, err
	}

	inserted, err := insertJobs(ctx, tx, plan.Jobs)
	if err != nil {
		return 0, err
	}

	for _, block := range plan.Blocks {
		if _, err := tx.ExecContext(ctx, queryMarkBlockQueued, block.BlockID, block.Count); err != nil {
			return 0, fmt.Errorf("failed to mark block %d queued: %w", block.BlockID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func insertJobs(ctx context.Context, tx *sql.Tx, jobs []*models.SendJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, queryInsertJob)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, job := range jobs {
		vars, err := json.Marshal(job.Variables)
		if err != nil {
			return 0, fmt.Errorf("failed to encode variables for job %s: %w", job.ID, err)
		}

		result, err := stmt.ExecContext(ctx,
			job.ID,
			job.CampaignID,
			job.BlockID,
			job.RecipientID,
			job.RecipientEmail,
			job.RecipientName,
			vars,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(rows)
	}

	return inserted, nil
}

// Claim leases the oldest visible job for the given duration
func (r *jobRepository) Claim(ctx context.Context, lease time.Duration) (*models.SendJob, error) {
	token := uuid.New()

	job, err := scanJob(r.db.QueryRowContext(ctx, queryClaimJob, token, lease.Seconds()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// SaveRendered stores the rendered content once; later calls keep the first
// rendering.
func (r *jobRepository) SaveRendered(ctx context.Context, job *models.SendJob, subject, body string) error {
	if err := r.execLeased(ctx, job, querySaveRendered, subject, body); err != nil {
		return fmt.Errorf("failed to save rendered content: %w", err)
	}
	job.RenderedSubject = &subject
	job.RenderedBody = &body
	return nil
}

// MarkSent records a successful delivery
func (r *jobRepository) MarkSent(ctx context.Context, job *models.SendJob, attempts int) error {
	if err := r.execLeased(ctx, job, queryMarkSent, attempts); err != nil {
		return fmt.Errorf("failed to mark job sent: %w", err)
	}
	job.Status = models.JobStatusSent
	job.Attempts = attempts
	return nil
}

// MarkFailed records a terminal failure
func (r *jobRepository) MarkFailed(ctx context.Context, job *models.SendJob, attempts int, reason models.FailureReason, lastError string) error {
	if err := r.execLeased(ctx, job, queryMarkFailed, attempts, reason, lastError); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	job.Status = models.JobStatusFailed
	job.Attempts = attempts
	job.FailureReason = &reason
	job.LastError = &lastError
	return nil
}

// Release gives the job back to the queue
func (r *jobRepository) Release(ctx context.Context, job *models.SendJob, attempts int, availableAt time.Time, lastError string) error {
	var errText *string
	if lastError != "" {
		errText = &lastError
	}
	err := r.execLeased(ctx, job, queryReleaseJob, attempts, availableAt, errText)
	if errors.Is(err, ErrLeaseLost) && job.LeaseToken != nil {
		// Nothing changed: either the lease is gone or the campaign is.
		var held bool
		if qerr := r.db.QueryRowContext(ctx, queryLeaseHeld, job.ID, *job.LeaseToken).Scan(&held); qerr != nil {
			return fmt.Errorf("failed to check job lease: %w", qerr)
		}
		if held {
			return ErrCampaignClosed
		}
	}
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	job.Status = models.JobStatusPending
	job.Attempts = attempts
	job.AvailableAt = availableAt
	return nil
}

// MarkCancelled ends a leased job whose campaign was cancelled before the
// job was attempted
func (r *jobRepository) MarkCancelled(ctx context.Context, job *models.SendJob, reason string) error {
	if err := r.execLeased(ctx, job, queryMarkCancelled, reason); err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	job.Status = models.JobStatusCancelled
	job.LastError = &reason
	return nil
}

// execLeased runs an update guarded by the job's lease token
func (r *jobRepository) execLeased(ctx context.Context, job *models.SendJob, query string, args ...interface{}) error {
	if job.LeaseToken == nil {
		return ErrLeaseLost
	}

	result, err := r.db.ExecContext(ctx, query, append([]interface{}{job.ID, *job.LeaseToken}, args...)...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrLeaseLost
	}
	return nil
}

// CancelCampaign marks the campaign cancelled and cancels its pending jobs.
// Jobs currently leased are left to finish.
func (r *jobRepository) CancelCampaign(ctx context.Context, campaignID int, from models.CampaignStatus) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateCampaignStatus(ctx, tx, campaignID, from, models.CampaignStatusCancelled); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, queryCancelPendingJobs, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending jobs: %w", err)
	}
	cancelled, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(cancelled), nil
}

// CancelAbandoned cancels jobs of cancelled campaigns that nothing will ever
// finish: pending jobs handed back after the cancel, and leases whose worker
// let them expire. New claims are forbidden for those campaigns.
func (r *jobRepository) CancelAbandoned(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, queryCancelAbandonedJobs)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel abandoned jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// Counts aggregates job states per block of a campaign
func (r *jobRepository) Counts(ctx context.Context, campaignID int) ([]models.BlockCounts, error) {
	rows, err := r.db.QueryContext(ctx, queryJobCounts, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	var counts []models.BlockCounts
	for rows.Next() {
		var c models.BlockCounts
		err := rows.Scan(
			&c.BlockID,
			&c.Total,
			&c.Pending,
			&c.Sending,
			&c.Sent,
			&c.Failed,
			&c.Cancelled,
			&c.Started,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job counts: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job counts: %w", err)
	}

	return counts, nil
}

// GetByID retrieves a job by ID
func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SendJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, queryGetJobByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListByCampaign lists a campaign's jobs with filters and pagination
func (r *jobRepository) ListByCampaign(ctx context.Context, campaignID int, filters JobFilters) ([]*models.SendJob, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE campaign_id = $1")

	args := []interface{}{campaignID}
	argPos := 2

	if filters.Status != nil {
		where.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	if filters.BlockID != nil {
		where.WriteString(fmt.Sprintf(" AND block_id = $%d", argPos))
		args = append(args, *filters.BlockID)
		argPos++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM send_jobs"+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	limit, offset := pageBounds(filters.Page, filters.PageSize)
	query := "SELECT" + jobColumns + " FROM send_jobs" + where.String() +
		fmt.Sprintf(" ORDER BY block_id, recipient_id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.SendJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read jobs: %w", err)
	}

	return jobs, total, nil
}

func scanJob(row rowScanner) (*models.SendJob, error) {
	var (
		job    models.SendJob
		vars   []byte
		reason sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.CampaignID,
		&job.BlockID,
		&job.RecipientID,
		&job.RecipientEmail,
		&job.RecipientName,
		&vars,
		&job.RenderedSubject,
		&job.RenderedBody,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&reason,
		&job.AvailableAt,
		&job.LeaseToken,
		&job.LeasedUntil,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &job.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode variables for job %s: %w", job.ID, err)
		}
	}
	if reason.Valid {
		r := models.FailureReason(reason.String)
		job.FailureReason = &r
	}

	return &job, nil
}
