package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"placementmail/internal/logging"
	"placementmail/internal/models"
	"placementmail/internal/repository"
)

// Resolution is the point-in-time audience of one target spec
type Resolution struct {
	Drive      *models.Drive
	Recipients []models.Recipient
	// Dropped lists requested IDs that are not applicants of the drive
	Dropped []int
}

// RecipientResolver turns a target spec into a deduplicated recipient list
type RecipientResolver struct {
	directory repository.ApplicantDirectory
	logger    *zap.Logger
}

// NewRecipientResolver creates a resolver over the applicant directory
func NewRecipientResolver(directory repository.ApplicantDirectory, logger *zap.Logger) *RecipientResolver {
	return &RecipientResolver{directory: directory, logger: logging.OrNop(logger)}
}

// Resolve reads the drive's applicants once and filters them by spec.
// Recipients are unique by ID and ordered by ID.
func (r *RecipientResolver) Resolve(ctx context.Context, driveID int, spec models.TargetSpec) (*Resolution, error) {
	if err := spec.Validate(); err != nil {
		return nil, &ValidationError{Field: "target", Reason: err.Error()}
	}

	drive, err := r.directory.GetDrive(ctx, driveID)
	if errors.Is(err, repository.ErrDriveNotFound) {
		return nil, &ResolutionError{DriveID: driveID, NotFound: true, Err: err}
	}
	if err != nil {
		return nil, &ResolutionError{DriveID: driveID, Err: err}
	}

	applicants, err := r.directory.ListApplicants(ctx, driveID)
	if err != nil {
		return nil, &ResolutionError{DriveID: driveID, Err: fmt.Errorf("list applicants: %w", err)}
	}

	byID := make(map[int]*models.Applicant, len(applicants))
	ordered := make([]*models.Applicant, 0, len(applicants))
	for i := range applicants {
		a := &applicants[i]
		if _, dup := byID[a.ID]; dup {
			continue
		}
		byID[a.ID] = a
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var (
		selected []*models.Applicant
		dropped  []int
	)

	switch spec.Kind() {
	case models.TargetByStatus:
		for _, a := range ordered {
			if a.Status == spec.Status() {
				selected = append(selected, a)
			}
		}

	case models.TargetAllApplicants:
		selected = ordered

	case models.TargetManualSelected:
		want := make(map[int]bool)
		for _, id := range spec.IDs() {
			if _, ok := byID[id]; !ok {
				dropped = append(dropped, id)
				continue
			}
			want[id] = true
		}
		for _, a := range ordered {
			if want[a.ID] {
				selected = append(selected, a)
			}
		}

	case models.TargetManualRemaining:
		exclude := make(map[int]bool)
		for _, id := range spec.IDs() {
			if _, ok := byID[id]; !ok {
				dropped = append(dropped, id)
				continue
			}
			exclude[id] = true
		}
		for _, a := range ordered {
			if !exclude[a.ID] {
				selected = append(selected, a)
			}
		}
	}

	dropped = uniqueSorted(dropped)
	if len(dropped) > 0 {
		r.logger.Warn("dropping ids that are not applicants of the drive",
			zap.Int("drive_id", driveID),
			zap.Stringer("target", spec),
			zap.Ints("dropped_ids", dropped),
		)
	}

	recipients := make([]models.Recipient, 0, len(selected))
	for _, a := range selected {
		recipients = append(recipients, a.Snapshot())
	}

	return &Resolution{Drive: drive, Recipients: recipients, Dropped: dropped}, nil
}

func uniqueSorted(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
