package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"placementmail/internal/logging"
	"placementmail/internal/models"
	"placementmail/internal/repository"
)

// Lifecycle events
const (
	eventQueue              = "queue"
	eventStart              = "start"
	eventComplete           = "complete"
	eventCompleteWithErrors = "complete_with_errors"
	eventCancel             = "cancel"
)

var lifecycleEvents = fsm.Events{
	{Name: eventQueue, Src: []string{string(models.CampaignStatusDraft)}, Dst: string(models.CampaignStatusQueued)},
	{Name: eventStart, Src: []string{string(models.CampaignStatusQueued)}, Dst: string(models.CampaignStatusSending)},
	{
		Name: eventComplete,
		Src:  []string{string(models.CampaignStatusQueued), string(models.CampaignStatusSending)},
		Dst:  string(models.CampaignStatusCompleted),
	},
	{
		Name: eventCompleteWithErrors,
		Src:  []string{string(models.CampaignStatusQueued), string(models.CampaignStatusSending)},
		Dst:  string(models.CampaignStatusCompletedWithErrors),
	},
	{
		Name: eventCancel,
		Src: []string{
			string(models.CampaignStatusDraft),
			string(models.CampaignStatusQueued),
			string(models.CampaignStatusSending),
		},
		Dst: string(models.CampaignStatusCancelled),
	},
}

var eventFor = map[models.CampaignStatus]string{
	models.CampaignStatusQueued:              eventQueue,
	models.CampaignStatusSending:             eventStart,
	models.CampaignStatusCompleted:           eventComplete,
	models.CampaignStatusCompletedWithErrors: eventCompleteWithErrors,
	models.CampaignStatusCancelled:           eventCancel,
}

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid campaign status transition")

// CanTransition reports whether a campaign may move from one status to another
func CanTransition(from, to models.CampaignStatus) bool {
	event, ok := eventFor[to]
	if !ok {
		return false
	}
	return fsm.NewFSM(string(from), lifecycleEvents, nil).Can(event)
}

func checkTransition(ctx context.Context, from, to models.CampaignStatus) error {
	event, ok := eventFor[to]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := fsm.NewFSM(string(from), lifecycleEvents, nil).Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, from, to, err)
	}
	return nil
}

// Project derives a campaign (or block) status from its job counts.
// Draft, cancelled and terminal statuses never change by projection, and a
// sending campaign never goes back to queued.
func Project(current models.CampaignStatus, counts models.JobCounts) models.CampaignStatus {
	if current == models.CampaignStatusDraft || current.IsTerminal() {
		return current
	}

	if counts.NonTerminal() == 0 {
		if counts.Failed > 0 {
			return models.CampaignStatusCompletedWithErrors
		}
		return models.CampaignStatusCompleted
	}

	if counts.Started > 0 || current == models.CampaignStatusSending {
		return models.CampaignStatusSending
	}
	return models.CampaignStatusQueued
}

// CampaignTracker keeps the stored campaign status equal to the projection
// of its jobs. Every method is safe to repeat.
type CampaignTracker struct {
	campaigns repository.CampaignRepository
	jobs      repository.JobRepository
	logger    *zap.Logger
}

// NewCampaignTracker creates a tracker
func NewCampaignTracker(campaigns repository.CampaignRepository, jobs repository.JobRepository, logger *zap.Logger) *CampaignTracker {
	return &CampaignTracker{campaigns: campaigns, jobs: jobs, logger: logging.OrNop(logger)}
}

// NoteClaim moves a queued campaign to sending once one of its jobs is claimed
func (t *CampaignTracker) NoteClaim(ctx context.Context, campaignID int) error {
	err := t.campaigns.UpdateStatus(ctx, campaignID, models.CampaignStatusQueued, models.CampaignStatusSending)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	t.logger.Info("campaign sending", zap.Int("campaign_id", campaignID))
	return nil
}

// Refresh recomputes the campaign status from its jobs and persists a change
func (t *CampaignTracker) Refresh(ctx context.Context, campaignID int) (models.CampaignStatus, error) {
	campaign, err := t.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
	}

	blocks, err := t.jobs.Counts(ctx, campaignID)
	if err != nil {
		return "", err
	}

	var totals models.JobCounts
	for _, b := range blocks {
		totals = totals.Add(b.JobCounts)
	}

	next := Project(campaign.Status, totals)
	if next == campaign.Status {
		return next, nil
	}

	if err := checkTransition(ctx, campaign.Status, next); err != nil {
		return campaign.Status, err
	}

	err = t.campaigns.UpdateStatus(ctx, campaignID, campaign.Status, next)
	if errors.Is(err, repository.ErrStatusConflict) {
		// Someone else moved it; their write wins and the next refresh
		// starts from it.
		return campaign.Status, nil
	}
	if err != nil {
		return campaign.Status, err
	}

	t.logger.Info("campaign status changed",
		zap.Int("campaign_id", campaignID),
		zap.String("from", string(campaign.Status)),
		zap.String("to", string(next)),
		zap.Int("sent", totals.Sent),
		zap.Int("failed", totals.Failed),
		zap.Int("cancelled", totals.Cancelled),
	)
	return next, nil
}
