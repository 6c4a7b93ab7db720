package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placementmail/internal/models"
)

var blockColumnNames = []string{
	"id", "campaign_id", "block_order", "target_type", "target_status", "target_ids",
	"subject_template", "body_template", "status", "resolved_count", "resolved_at", "created_at",
}

var campaignColumnNames = []string{
	"id", "drive_id", "name", "created_by", "status", "cancelled_at", "created_at", "updated_at",
}

func TestCreateCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)
	now := time.Now()

	campaign := &models.Campaign{
		DriveID:   10,
		Name:      "Acme round 2",
		CreatedBy: "tpo@college.edu",
		Status:    models.CampaignStatusDraft,
		Blocks: []models.MessageBlock{
			{
				BlockOrder:      1,
				Target:          models.ByStatus("shortlisted"),
				SubjectTemplate: "Shortlisted for {{company_name}}",
				BodyTemplate:    "Hi {{student_name}}",
				Status:          models.BlockStatusDraft,
			},
			{
				BlockOrder:      2,
				Target:          models.ManualRemaining([]int{1, 4}),
				SubjectTemplate: "Update from {{company_name}}",
				BodyTemplate:    "Hi {{student_name}}",
				Status:          models.BlockStatusDraft,
			},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO campaigns").
		WithArgs(10, "Acme round 2", "tpo@college.edu", models.CampaignStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))
	prep := mock.ExpectPrepare("INSERT INTO message_blocks")
	prep.ExpectQuery().
		WithArgs(7, 1, models.TargetByStatus, "shortlisted", sqlmock.AnyArg(),
			"Shortlisted for {{company_name}}", "Hi {{student_name}}", models.BlockStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(21, now))
	prep.ExpectQuery().
		WithArgs(7, 2, models.TargetManualRemaining, nil, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(22, now))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), campaign)

	require.NoError(t, err)
	assert.Equal(t, 7, campaign.ID)
	assert.Equal(t, 21, campaign.Blocks[0].ID)
	assert.Equal(t, 22, campaign.Blocks[1].ID)
	assert.Equal(t, 7, campaign.Blocks[1].CampaignID)
}

func TestCreateCampaign_BlockInsertFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)
	now := time.Now()

	campaign := &models.Campaign{
		DriveID: 10,
		Name:    "Acme",
		Status:  models.CampaignStatusDraft,
		Blocks: []models.MessageBlock{{
			BlockOrder: 1, Target: models.AllApplicants(), SubjectTemplate: "s", BodyTemplate: "b",
			Status: models.BlockStatusDraft,
		}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))
	mock.ExpectPrepare("INSERT INTO message_blocks").
		ExpectQuery().WillReturnError(errors.New("check constraint violated"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), campaign)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create block 1")
}

func TestGetCampaignByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = \\$1").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(campaignColumnNames).
			AddRow(7, 10, "Acme round 2", "tpo@college.edu", "queued", nil, now, now))
	mock.ExpectQuery("SELECT (.+) FROM message_blocks WHERE campaign_id = \\$1 ORDER BY block_order").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(blockColumnNames).
			AddRow(21, 7, 1, "by_status", "shortlisted", "{}", "s1", "b1", "queued", 3, now, now).
			AddRow(22, 7, 2, "manual_remaining", nil, "{1,4}", "s2", "b2", "queued", 2, now, now))

	campaign, err := repo.GetByID(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusQueued, campaign.Status)
	require.Len(t, campaign.Blocks, 2)
	assert.Equal(t, "shortlisted", campaign.Blocks[0].Target.Status())
	assert.Equal(t, models.TargetManualRemaining, campaign.Blocks[1].Target.Kind())
	assert.Equal(t, []int{1, 4}, campaign.Blocks[1].Target.IDs())
}

func TestGetCampaignByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM campaigns").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(campaignColumnNames))

	_, err := repo.GetByID(context.Background(), 99)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBlock_UnknownTargetType(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)
	now := time.Now()

	mock.ExpectQuery("FROM message_blocks WHERE id = \\$1").
		WithArgs(21).
		WillReturnRows(sqlmock.NewRows(blockColumnNames).
			AddRow(21, 7, 1, "by_branch", nil, "{}", "s", "b", "draft", nil, nil, now))

	_, err := repo.GetBlock(context.Background(), 21)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "applied", rows: 1},
		{name: "status moved underneath", rows: 0, wantErr: ErrStatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewCampaignRepository(db)

			mock.ExpectExec("UPDATE campaigns SET status = \\$1").
				WithArgs(models.CampaignStatusSending, 7, models.CampaignStatusQueued).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			err := repo.UpdateStatus(context.Background(), 7, models.CampaignStatusQueued, models.CampaignStatusSending)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestListCampaigns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)
	now := time.Now()
	driveID := 10

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM campaigns WHERE 1=1 AND drive_id = \\$1").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("FROM campaigns WHERE 1=1 AND drive_id = \\$1 ORDER BY id DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs(10, 5, 5).
		WillReturnRows(sqlmock.NewRows(campaignColumnNames).
			AddRow(7, 10, "Acme", "", "draft", nil, now, now))

	campaigns, total, err := repo.List(context.Background(), CampaignFilters{
		DriveID:  &driveID,
		Page:     2,
		PageSize: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, campaigns, 1)
	assert.Empty(t, campaigns[0].Blocks)
}

func TestListActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	mock.ExpectQuery("SELECT id FROM campaigns WHERE status IN \\('queued', 'sending'\\)").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(7))

	ids, err := repo.ListActive(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, ids)
}

func TestTargetIDsRoundTripAsArray(t *testing.T) {
	value, err := pq.Array(toInt64s([]int{4, 1})).Value()
	require.NoError(t, err)
	assert.Equal(t, "{4,1}", value)
	assert.Nil(t, toInts(nil))
}
