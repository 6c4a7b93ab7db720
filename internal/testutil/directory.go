package testutil

import (
	"context"
	"sync"

	"placementmail/internal/models"
	"placementmail/internal/repository"
)

// StaticDirectory is an in-memory applicant directory
type StaticDirectory struct {
	mu         sync.Mutex
	drives     map[int]*models.Drive
	applicants map[int][]models.Applicant

	// Err, when set, is returned by every call
	Err error
	// ListCalls counts ListApplicants calls
	ListCalls int
}

// NewStaticDirectory creates an empty directory
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		drives:     make(map[int]*models.Drive),
		applicants: make(map[int][]models.Applicant),
	}
}

// AddDrive registers a drive and its applicants
func (d *StaticDirectory) AddDrive(drive models.Drive, applicants ...models.Applicant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drives[drive.ID] = &drive
	d.applicants[drive.ID] = append(d.applicants[drive.ID], applicants...)
}

func (d *StaticDirectory) GetDrive(ctx context.Context, driveID int) (*models.Drive, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	drive, ok := d.drives[driveID]
	if !ok {
		return nil, repository.ErrDriveNotFound
	}
	out := *drive
	return &out, nil
}

func (d *StaticDirectory) ListApplicants(ctx context.Context, driveID int) ([]models.Applicant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ListCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	if _, ok := d.drives[driveID]; !ok {
		return nil, repository.ErrDriveNotFound
	}
	return append([]models.Applicant(nil), d.applicants[driveID]...), nil
}

// Applicant builds an applicant with the given id, email, name and status
func Applicant(id int, email, name, status string) models.Applicant {
	a := models.Applicant{ID: id, Email: email, Status: status}
	if name != "" {
		a.Name = &name
	}
	return a
}
