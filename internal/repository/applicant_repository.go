package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"placementmail/internal/models"
)

type applicantRepository struct {
	db *sql.DB
}

// NewApplicantRepository creates the Postgres-backed applicant directory
func NewApplicantRepository(db *sql.DB) ApplicantDirectory {
	return &applicantRepository{db: db}
}

// GetDrive retrieves a drive by ID
func (r *applicantRepository) GetDrive(ctx context.Context, driveID int) (*models.Drive, error) {
	query := `
		SELECT id, company_name, role_name, round_name, created_at
		FROM drives
		WHERE id = $1
	`

	drive := &models.Drive{}
	err := r.db.QueryRowContext(ctx, query, driveID).Scan(
		&drive.ID,
		&drive.CompanyName,
		&drive.RoleName,
		&drive.RoundName,
		&drive.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDriveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drive: %w", err)
	}

	return drive, nil
}

// ListApplicants returns every application to a drive, ordered by student ID
func (r *applicantRepository) ListApplicants(ctx context.Context, driveID int) ([]models.Applicant, error) {
	query := `
		SELECT s.id, s.email, s.full_name, a.status, s.branch
		FROM drive_applications a
		JOIN students s ON s.id = a.student_id
		WHERE a.drive_id = $1
		ORDER BY s.id
	`

	rows, err := r.db.QueryContext(ctx, query, driveID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applicants: %w", err)
	}
	defer rows.Close()

	applicants := []models.Applicant{}
	for rows.Next() {
		var a models.Applicant
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Status, &a.Branch); err != nil {
			return nil, fmt.Errorf("failed to scan applicant: %w", err)
		}
		applicants = append(applicants, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read applicants: %w", err)
	}

	return applicants, nil
}
