package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placementmail/internal/models"
)

var jobColumnNames = []string{
	"id", "campaign_id", "block_id", "recipient_id", "recipient_email", "recipient_name",
	"variables", "rendered_subject", "rendered_body", "status", "attempts", "last_error",
	"failure_reason", "available_at", "lease_token", "leased_until",
	"created_at", "updated_at", "completed_at",
}

func testJob(blockID, recipientID int) *models.SendJob {
	return &models.SendJob{
		ID:             models.JobID(blockID, recipientID),
		CampaignID:     1,
		BlockID:        blockID,
		RecipientID:    recipientID,
		RecipientEmail: "asha@college.edu",
		RecipientName:  "Asha Rao",
		Variables:      map[string]string{"student_name": "Asha Rao"},
	}
}

func leasedJob() *models.SendJob {
	job := testJob(3, 7)
	token := uuid.New()
	job.LeaseToken = &token
	job.Status = models.JobStatusSending
	return job
}

func TestEnqueue_SkipsExistingJobs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	first, dup := testJob(3, 7), testJob(3, 7)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO send_jobs (.+) ON CONFLICT DO NOTHING")
	prep.ExpectExec().
		WithArgs(first.ID, 1, 3, 7, "asha@college.edu", "Asha Rao", []byte(`{"student_name":"Asha Rao"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(dup.ID, 1, 3, 7, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := repo.Enqueue(context.Background(), []*models.SendJob{first, dup})

	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestEnqueue_EmptyIsNoop(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewJobRepository(db)

	inserted, err := repo.Enqueue(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestEnqueueCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs(models.CampaignStatusQueued, 1, models.CampaignStatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO send_jobs").
		ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE message_blocks SET status = 'queued'").
		WithArgs(3, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE message_blocks SET status = 'queued'").
		WithArgs(4, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := repo.EnqueueCampaign(context.Background(), DispatchPlan{
		CampaignID: 1,
		Blocks:     []ResolvedBlock{{BlockID: 3, Count: 1}, {BlockID: 4, Count: 0}},
		Jobs:       []*models.SendJob{testJob(3, 7)},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestEnqueueCampaign_NotDraft(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.EnqueueCampaign(context.Background(), DispatchPlan{
		CampaignID: 1,
		Jobs:       []*models.SendJob{testJob(3, 7)},
	})

	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestClaim_NothingVisible(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery("WITH next AS (.+) FOR UPDATE OF j SKIP LOCKED").
		WithArgs(sqlmock.AnyArg(), 120.0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	job, err := repo.Claim(context.Background(), 2*time.Minute)

	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaim_ReturnsLeasedJob(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	id := models.JobID(3, 7)
	token := uuid.New()
	now := time.Now().UTC()
	until := now.Add(time.Minute)
	subject := "Acme: shortlisted"

	mock.ExpectQuery("WITH next AS").
		WithArgs(sqlmock.AnyArg(), 60.0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			id.String(), 1, 3, 7, "asha@college.edu", "Asha Rao",
			[]byte(`{"student_name":"Asha Rao","company_name":"Acme"}`), subject, nil,
			"sending", 1, "421 try later", nil, now, token.String(), until,
			now, now, nil,
		))

	job, err := repo.Claim(context.Background(), time.Minute)

	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, models.JobStatusSending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "Acme", job.Variables["company_name"])
	require.NotNil(t, job.LeaseToken)
	assert.Equal(t, token, *job.LeaseToken)
	assert.False(t, job.IsRendered(), "body not rendered yet")
	assert.Nil(t, job.FailureReason)
}

func TestMarkSent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()

	mock.ExpectExec("UPDATE send_jobs SET status = 'sent'").
		WithArgs(job.ID, *job.LeaseToken, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkSent(context.Background(), job, 2))
	assert.Equal(t, models.JobStatusSent, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestMarkSent_LeaseLost(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()

	mock.ExpectExec("UPDATE send_jobs SET status = 'sent'").
		WithArgs(job.ID, *job.LeaseToken, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSent(context.Background(), job, 1)

	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.Equal(t, models.JobStatusSending, job.Status)
}

func TestMarkSent_WithoutLease(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewJobRepository(db)

	err := repo.MarkSent(context.Background(), testJob(3, 7), 1)

	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestMarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()

	mock.ExpectExec("UPDATE send_jobs SET status = 'failed'").
		WithArgs(job.ID, *job.LeaseToken, 3, models.FailureRetriesExhausted, "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), job, 3, models.FailureRetriesExhausted, "timeout"))
	require.NotNil(t, job.FailureReason)
	assert.Equal(t, models.FailureRetriesExhausted, *job.FailureReason)
}

func TestRelease(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()
	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)

	mock.ExpectExec("UPDATE send_jobs SET status = 'pending'").
		WithArgs(job.ID, *job.LeaseToken, 1, at, "421 busy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Release(context.Background(), job, 1, at, "421 busy"))
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, at, job.AvailableAt)
}

func TestRelease_CampaignCancelled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()
	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)

	mock.ExpectExec("UPDATE send_jobs SET status = 'pending'(.+)AND EXISTS").
		WithArgs(job.ID, *job.LeaseToken, 1, at, "421 busy").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS (.+) FROM send_jobs").
		WithArgs(job.ID, *job.LeaseToken).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Release(context.Background(), job, 1, at, "421 busy")

	assert.ErrorIs(t, err, ErrCampaignClosed)
	assert.Equal(t, models.JobStatusSending, job.Status)
}

func TestRelease_LeaseLost(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()
	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)

	mock.ExpectExec("UPDATE send_jobs SET status = 'pending'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS (.+) FROM send_jobs").
		WithArgs(job.ID, *job.LeaseToken).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.Release(context.Background(), job, 1, at, "")

	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.False(t, errors.Is(err, ErrCampaignClosed))
}

func TestMarkCancelled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()

	mock.ExpectExec("UPDATE send_jobs SET status = 'cancelled', last_error").
		WithArgs(job.ID, *job.LeaseToken, "campaign cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkCancelled(context.Background(), job, "campaign cancelled"))
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestSaveRendered_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	job := leasedJob()

	mock.ExpectExec("UPDATE send_jobs SET rendered_subject").
		WillReturnError(errors.New("connection reset"))

	err := repo.SaveRendered(context.Background(), job, "s", "b")

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLeaseLost))
	assert.Nil(t, job.RenderedSubject)
}

func TestCancelCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs(models.CampaignStatusCancelled, 1, models.CampaignStatusSending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE send_jobs SET status = 'cancelled'").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	cancelled, err := repo.CancelCampaign(context.Background(), 1, models.CampaignStatusSending)

	require.NoError(t, err)
	assert.Equal(t, 4, cancelled)
}

func TestCancelAbandoned(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectExec("UPDATE send_jobs j SET status = 'cancelled'(.+)j.status = 'pending'").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.CancelAbandoned(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCounts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM send_jobs WHERE campaign_id = (.+) GROUP BY block_id").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"block_id", "total", "pending", "sending", "sent", "failed", "cancelled", "started"}).
			AddRow(3, 3, 0, 0, 3, 0, 0, 3).
			AddRow(4, 5, 1, 1, 2, 1, 0, 4))

	counts, err := repo.Counts(context.Background(), 1)

	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 3, counts[0].Sent)
	assert.Equal(t, 2, counts[1].NonTerminal())
	assert.Equal(t, 4, counts[1].Started)
}

func TestGetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM send_jobs WHERE id").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, err := repo.GetByID(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByCampaign_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db)
	status := models.JobStatusFailed

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM send_jobs WHERE campaign_id = \\$1 AND status = \\$2").
		WithArgs(1, status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("FROM send_jobs WHERE campaign_id = \\$1 AND status = \\$2 ORDER BY block_id, recipient_id LIMIT \\$3 OFFSET \\$4").
		WithArgs(1, status, 20, 0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	jobs, total, err := repo.ListByCampaign(context.Background(), 1, JobFilters{Status: &status})

	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Zero(t, total)
}
