package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"placementmail/internal/models"
)

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

const blockColumns = `id, campaign_id, block_order, target_type, target_status, target_ids,
	subject_template, body_template, status, resolved_count, resolved_at, created_at`

// Create inserts a campaign and its blocks in one transaction
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO campaigns (drive_id, name, created_by, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`,
		campaign.DriveID,
		campaign.Name,
		campaign.CreatedBy,
		campaign.Status,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_blocks
			(campaign_id, block_order, target_type, target_status, target_ids, subject_template, body_template, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare block insert: %w", err)
	}
	defer stmt.Close()

	for i := range campaign.Blocks {
		block := &campaign.Blocks[i]
		block.CampaignID = campaign.ID

		var status *string
		if s := block.Target.Status(); s != "" {
			status = &s
		}

		err := stmt.QueryRowContext(ctx,
			block.CampaignID,
			block.BlockOrder,
			block.Target.Kind(),
			status,
			pq.Array(toInt64s(block.Target.IDs())),
			block.SubjectTemplate,
			block.BodyTemplate,
			block.Status,
		).Scan(&block.ID, &block.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create block %d: %w", block.BlockOrder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign with its blocks in block order
func (r *campaignRepository) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := `
		SELECT id, drive_id, name, created_by, status, cancelled_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	campaign := &models.Campaign{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.DriveID,
		&campaign.Name,
		&campaign.CreatedBy,
		&campaign.Status,
		&campaign.CancelledAt,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM message_blocks WHERE campaign_id = $1 ORDER BY block_order`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		campaign.Blocks = append(campaign.Blocks, *block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}

	return campaign, nil
}

// GetBlock retrieves one message block
func (r *campaignRepository) GetBlock(ctx context.Context, blockID int) (*models.MessageBlock, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM message_blocks WHERE id = $1`, blockID)
	block, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return block, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (*models.MessageBlock, error) {
	var (
		block        models.MessageBlock
		targetType   string
		targetStatus sql.NullString
		targetIDs    []int64
	)
	err := row.Scan(
		&block.ID,
		&block.CampaignID,
		&block.BlockOrder,
		&targetType,
		&targetStatus,
		pq.Array(&targetIDs),
		&block.SubjectTemplate,
		&block.BodyTemplate,
		&block.Status,
		&block.ResolvedCount,
		&block.ResolvedAt,
		&block.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan block: %w", err)
	}

	block.Target, err = models.NewTargetSpec(models.TargetKind(targetType), targetStatus.String, toInts(targetIDs))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", block.ID, err)
	}
	return &block, nil
}

// List retrieves campaigns (without blocks) with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE 1=1")

	args := []interface{}{}
	argPos := 1

	if filters.DriveID != nil {
		where.WriteString(fmt.Sprintf(" AND drive_id = $%d", argPos))
		args = append(args, *filters.DriveID)
		argPos++
	}

	if filters.Status != nil {
		where.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	var totalCount int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where.String(), args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	limit, offset := pageBounds(filters.Page, filters.PageSize)
	query := `
		SELECT id, drive_id, name, created_by, status, cancelled_at, created_at, updated_at
		FROM campaigns` + where.String() +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign := &models.Campaign{}
		err := rows.Scan(
			&campaign.ID,
			&campaign.DriveID,
			&campaign.Name,
			&campaign.CreatedBy,
			&campaign.Status,
			&campaign.CancelledAt,
			&campaign.CreatedAt,
			&campaign.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read campaigns: %w", err)
	}

	return campaigns, totalCount, nil
}

// ListActive returns IDs of campaigns whose jobs may still be claimed
func (r *campaignRepository) ListActive(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status IN ('queued', 'sending') ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStatus performs a guarded status transition
func (r *campaignRepository) UpdateStatus(ctx context.Context, id int, from, to models.CampaignStatus) error {
	return updateCampaignStatus(ctx, r.db, id, from, to)
}

func updateCampaignStatus(ctx context.Context, db DB, id int, from, to models.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = $1,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrStatusConflict
	}

	return nil
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toInts(ids []int64) []int {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
