package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"placementmail/internal/models"
)

type deliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository creates the delivery audit log
func NewDeliveryRepository(db *sql.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

// Append inserts one delivery record, assigning ID and timestamp if unset
func (r *deliveryRepository) Append(ctx context.Context, record *models.DeliveryRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, queryInsertDeliveryRecord,
		record.ID,
		record.JobID,
		record.Attempt,
		record.Outcome,
		record.Error,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append delivery record: %w", err)
	}
	return nil
}

// ListByJob returns a job's delivery records in attempt order
func (r *deliveryRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.DeliveryRecord, error) {
	rows, err := r.db.QueryContext(ctx, queryListDeliveryRecords, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	defer rows.Close()

	records := []*models.DeliveryRecord{}
	for rows.Next() {
		rec := &models.DeliveryRecord{}
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Attempt, &rec.Outcome, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read delivery records: %w", err)
	}

	return records, nil
}
