package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placementmail/internal/models"
)

func TestAppendDeliveryRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(db)
	jobID := models.JobID(3, 7)
	reason := "421 try again later"

	mock.ExpectExec("INSERT INTO delivery_records").
		WithArgs(sqlmock.AnyArg(), jobID, 1, models.OutcomeRetry, reason, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.DeliveryRecord{JobID: jobID, Attempt: 1, Outcome: models.OutcomeRetry, Error: &reason}
	require.NoError(t, repo.Append(context.Background(), record))

	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestListDeliveryRecords(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(db)
	jobID := models.JobID(3, 7)
	now := time.Now()

	mock.ExpectQuery("FROM delivery_records WHERE job_id = \\$1 ORDER BY attempt").
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "attempt", "outcome", "error", "created_at"}).
			AddRow(uuid.New().String(), jobID.String(), 1, "retry", "421 busy", now).
			AddRow(uuid.New().String(), jobID.String(), 2, "sent", nil, now))

	records, err := repo.ListByJob(context.Background(), jobID)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.OutcomeRetry, records[0].Outcome)
	assert.Nil(t, records[1].Error)
	assert.Equal(t, jobID, records[1].JobID)
}
