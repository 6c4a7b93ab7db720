package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"placementmail/internal/logging"
	"placementmail/internal/metrics"
	"placementmail/internal/models"
)

// AbandonedJobs closes leases left behind in cancelled campaigns
type AbandonedJobs interface {
	CancelAbandoned(ctx context.Context) (int, error)
}

// ActiveCampaigns lists campaigns still queued or sending
type ActiveCampaigns interface {
	ListActive(ctx context.Context) ([]int, error)
}

// Sweeper periodically repairs state no worker will touch again: expired
// leases of cancelled campaigns, and campaign statuses whose last refresh was
// lost to a crash.
type Sweeper struct {
	jobs      AbandonedJobs
	campaigns ActiveCampaigns
	tracker   StatusTracker
	interval  time.Duration
	metrics   metrics.Sink
	logger    *zap.Logger
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(jobs AbandonedJobs, campaigns ActiveCampaigns, tracker StatusTracker, interval time.Duration, sink metrics.Sink, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		jobs:      jobs,
		campaigns: campaigns,
		tracker:   tracker,
		interval:  interval,
		metrics:   metrics.OrNoop(sink),
		logger:    logging.OrNop(logger),
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// SweepResult summarizes one pass
type SweepResult struct {
	Abandoned int
	Refreshed int
	// Finished holds the campaigns this pass moved to a terminal status
	Finished map[int]models.CampaignStatus
}

// RunOnce performs a single pass. Errors are logged; the next pass retries.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	result := SweepResult{Finished: map[int]models.CampaignStatus{}}

	abandoned, err := s.jobs.CancelAbandoned(ctx)
	if err != nil {
		s.logger.Error("failed to cancel abandoned jobs", zap.Error(err))
	} else if abandoned > 0 {
		s.logger.Info("cancelled abandoned jobs", zap.Int("count", abandoned))
	}
	result.Abandoned = abandoned

	ids, err := s.campaigns.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list active campaigns", zap.Error(err))
		s.metrics.SweepCompleted(abandoned)
		return result
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		status, err := s.tracker.Refresh(ctx, id)
		if err != nil {
			s.logger.Error("failed to refresh campaign", zap.Int("campaign_id", id), zap.Error(err))
			continue
		}
		result.Refreshed++
		if status.IsTerminal() {
			result.Finished[id] = status
		}
	}

	s.metrics.SweepCompleted(abandoned)
	return result
}
