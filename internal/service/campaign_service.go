package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"placementmail/internal/logging"
	"placementmail/internal/models"
	"placementmail/internal/repository"
)

// DispatchNotifier is told when a campaign's jobs were enqueued so idle
// workers can start claiming before their next poll.
type DispatchNotifier interface {
	NotifyQueued(ctx context.Context, campaignID, jobs int) error
}

// previewSampleSize is how many recipients a count preview returns
const previewSampleSize = 5

// CampaignService handles campaign business logic
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	jobRepo      repository.JobRepository
	deliveryRepo repository.DeliveryRepository
	resolver     *RecipientResolver
	templateSvc  *TemplateService
	tracker      *CampaignTracker
	notifier     DispatchNotifier
	validate     *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewCampaignService creates a new campaign service. notifier may be nil.
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	jobRepo repository.JobRepository,
	deliveryRepo repository.DeliveryRepository,
	resolver *RecipientResolver,
	templateSvc *TemplateService,
	tracker *CampaignTracker,
	notifier DispatchNotifier,
	logger *zap.Logger,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		jobRepo:      jobRepo,
		deliveryRepo: deliveryRepo,
		resolver:     resolver,
		templateSvc:  templateSvc,
		tracker:      tracker,
		notifier:     notifier,
		validate:     newValidator(),
		logger:       logging.OrNop(logger),
		now:          time.Now,
	}
}

// CreateCampaign validates and stores a draft campaign with its blocks
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if req == nil {
		return nil, &ValidationError{Reason: "request body is required"}
	}
	req.normalize()

	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	campaign := &models.Campaign{
		DriveID:   req.DriveID,
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
		Status:    models.CampaignStatusDraft,
		Blocks:    make([]models.MessageBlock, 0, len(req.Blocks)),
	}

	for i, b := range req.Blocks {
		if err := b.Target.Validate(); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("blocks[%d].target", i), Reason: err.Error()}
		}
		if err := s.templateSvc.ValidateTemplate(b.Subject); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("blocks[%d].subject", i), Reason: err.Error()}
		}
		if err := s.templateSvc.ValidateTemplate(b.Body); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("blocks[%d].body", i), Reason: err.Error()}
		}

		campaign.Blocks = append(campaign.Blocks, models.MessageBlock{
			BlockOrder:      i + 1,
			Target:          *b.Target,
			SubjectTemplate: b.Subject,
			BodyTemplate:    b.Body,
			Status:          models.BlockStatusDraft,
		})
	}

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("drive_id", campaign.DriveID),
		zap.Int("blocks", len(campaign.Blocks)),
	)
	return campaign, nil
}

// GetCampaign retrieves a campaign with its blocks
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("campaign", id)
	}
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// GetCampaignReport returns the campaign with totals and per-block progress,
// aggregated from its jobs at read time.
func (s *CampaignService) GetCampaignReport(ctx context.Context, id int) (*models.CampaignReport, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.jobRepo.Counts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	byBlock := make(map[int]models.JobCounts, len(counts))
	for _, c := range counts {
		byBlock[c.BlockID] = c.JobCounts
	}

	report := &models.CampaignReport{
		ID:          campaign.ID,
		DriveID:     campaign.DriveID,
		Name:        campaign.Name,
		CreatedBy:   campaign.CreatedBy,
		CancelledAt: campaign.CancelledAt,
		CreatedAt:   campaign.CreatedAt,
		UpdatedAt:   campaign.UpdatedAt,
		Blocks:      make([]models.BlockReport, 0, len(campaign.Blocks)),
	}

	for _, block := range campaign.Blocks {
		c := byBlock[block.ID]
		report.Totals = report.Totals.Add(c)
		report.Blocks = append(report.Blocks, models.BlockReport{
			MessageBlock:  block,
			DisplayStatus: blockProgress(campaign.Status, block, c),
			Counts:        c,
		})
	}
	report.Status = Project(campaign.Status, report.Totals)

	return report, nil
}

func blockProgress(campaign models.CampaignStatus, block models.MessageBlock, c models.JobCounts) models.CampaignStatus {
	switch {
	case campaign == models.CampaignStatusCancelled:
		return models.CampaignStatusCancelled
	case block.Status == models.BlockStatusDraft:
		return models.CampaignStatusDraft
	}
	return Project(models.CampaignStatusQueued, c)
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, newPagination(filters.Page, filters.PageSize, total), nil
}

// SendCampaign resolves every block's audience and enqueues one job per
// (block, recipient). Calling it again for a queued or sending campaign
// returns the current state without enqueueing anything.
func (s *CampaignService) SendCampaign(ctx context.Context, id int) (*SendCampaignResult, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if campaign.Status.IsActive() {
		return s.alreadyQueued(ctx, campaign)
	}
	if !campaign.CanSend() {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot be sent: status is %s", campaign.Status),
		}
	}
	if !CanTransition(campaign.Status, models.CampaignStatusQueued) {
		return nil, &BusinessLogicError{Message: "campaign cannot be queued"}
	}

	plan := repository.DispatchPlan{CampaignID: campaign.ID}
	result := &SendCampaignResult{CampaignID: campaign.ID}

	for _, block := range campaign.Blocks {
		res, err := s.resolver.Resolve(ctx, campaign.DriveID, block.Target)
		if err != nil {
			return nil, err
		}

		for _, r := range res.Recipients {
			plan.Jobs = append(plan.Jobs, &models.SendJob{
				ID:             models.JobID(block.ID, r.ID),
				CampaignID:     campaign.ID,
				BlockID:        block.ID,
				RecipientID:    r.ID,
				RecipientEmail: r.Email,
				RecipientName:  r.Name,
				Variables:      BuildVariables(r, res.Drive),
				Status:         models.JobStatusPending,
			})
		}
		plan.Blocks = append(plan.Blocks, repository.ResolvedBlock{BlockID: block.ID, Count: len(res.Recipients)})
		result.Blocks = append(result.Blocks, BlockResolution{
			BlockOrder: block.BlockOrder,
			Recipients: len(res.Recipients),
			Dropped:    res.Dropped,
		})
	}

	inserted, err := s.jobRepo.EnqueueCampaign(ctx, plan)
	if errors.Is(err, repository.ErrStatusConflict) {
		// A concurrent request queued it first.
		current, err := s.GetCampaign(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status.IsActive() {
			return s.alreadyQueued(ctx, current)
		}
		return nil, &ConflictError{Resource: "campaign", Message: fmt.Sprintf("status changed to %s", current.Status)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue campaign: %w", err)
	}
	result.JobsQueued = inserted

	s.logger.Info("campaign queued",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("jobs", inserted),
	)

	if s.notifier != nil {
		if err := s.notifier.NotifyQueued(ctx, campaign.ID, inserted); err != nil {
			// Workers still find the jobs on their next poll.
			s.logger.Warn("failed to publish dispatch signal", zap.Int("campaign_id", campaign.ID), zap.Error(err))
		}
	}

	// A campaign with no recipients completes right away.
	status, err := s.tracker.Refresh(ctx, campaign.ID)
	if err != nil {
		s.logger.Warn("failed to refresh campaign status", zap.Int("campaign_id", campaign.ID), zap.Error(err))
		status = models.CampaignStatusQueued
	}
	result.Status = status

	return result, nil
}

func (s *CampaignService) alreadyQueued(ctx context.Context, campaign *models.Campaign) (*SendCampaignResult, error) {
	counts, err := s.jobRepo.Counts(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	var totals models.JobCounts
	for _, c := range counts {
		totals = totals.Add(c.JobCounts)
	}
	return &SendCampaignResult{
		CampaignID:    campaign.ID,
		JobsQueued:    totals.Total,
		Status:        campaign.Status,
		AlreadyQueued: true,
	}, nil
}

// CancelCampaign stops a campaign: pending jobs are cancelled and no new
// claims happen. Jobs already being delivered finish normally.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int) (*CancelCampaignResult, error) {
	// The status may move under us (queued -> sending) between read and
	// guarded write; re-read and retry a few times.
	for attempt := 0; attempt < 3; attempt++ {
		campaign, err := s.GetCampaign(ctx, id)
		if err != nil {
			return nil, err
		}

		if campaign.Status == models.CampaignStatusCancelled {
			return &CancelCampaignResult{CampaignID: id, Status: campaign.Status}, nil
		}
		if err := checkTransition(ctx, campaign.Status, models.CampaignStatusCancelled); err != nil {
			return nil, &BusinessLogicError{
				Message: fmt.Sprintf("campaign cannot be cancelled: status is %s", campaign.Status),
			}
		}

		cancelled, err := s.jobRepo.CancelCampaign(ctx, id, campaign.Status)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel campaign: %w", err)
		}

		s.logger.Info("campaign cancelled",
			zap.Int("campaign_id", id),
			zap.String("from", string(campaign.Status)),
			zap.Int("jobs_cancelled", cancelled),
		)
		return &CancelCampaignResult{
			CampaignID:    id,
			Status:        models.CampaignStatusCancelled,
			JobsCancelled: cancelled,
		}, nil
	}

	return nil, &ConflictError{Resource: "campaign", Message: "status keeps changing, retry the cancellation"}
}

// ListJobs lists the send jobs of a campaign
func (s *CampaignService) ListJobs(ctx context.Context, campaignID int, filters repository.JobFilters) ([]*models.SendJob, *PaginationInfo, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, nil, err
	}
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown job status %q", *filters.Status)}
	}

	jobs, total, err := s.jobRepo.ListByCampaign(ctx, campaignID, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, newPagination(filters.Page, filters.PageSize, total), nil
}

// ListDeliveries returns the audit trail of one job
func (s *CampaignService) ListDeliveries(ctx context.Context, jobID uuid.UUID) ([]*models.DeliveryRecord, error) {
	if _, err := s.jobRepo.GetByID(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("job", jobID)
		}
		return nil, err
	}
	return s.deliveryRepo.ListByJob(ctx, jobID)
}

// PreviewRecipients counts the applicants a target spec would reach today
func (s *CampaignService) PreviewRecipients(ctx context.Context, driveID int, req *ResolveRecipientsRequest) (*RecipientPreview, error) {
	if req == nil || req.Target == nil {
		return nil, &ValidationError{Field: "target", Reason: "is required"}
	}

	res, err := s.resolver.Resolve(ctx, driveID, *req.Target)
	if err != nil {
		return nil, err
	}

	sample := res.Recipients
	if len(sample) > previewSampleSize {
		sample = sample[:previewSampleSize]
	}

	return &RecipientPreview{
		DriveID: driveID,
		Count:   len(res.Recipients),
		Dropped: res.Dropped,
		Sample:  sample,
	}, nil
}

// PreviewEmail renders one block for one recipient without sending anything
func (s *CampaignService) PreviewEmail(ctx context.Context, campaignID int, req *PreviewEmailRequest) (*EmailPreview, error) {
	if req == nil {
		req = &PreviewEmailRequest{}
	}

	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	order := req.BlockOrder
	if order == 0 {
		order = 1
	}
	block, ok := campaign.Block(order)
	if !ok {
		return nil, notFound("block", order)
	}

	res, err := s.resolver.Resolve(ctx, campaign.DriveID, block.Target)
	if err != nil {
		return nil, err
	}

	var recipient *models.Recipient
	if req.RecipientID != nil {
		for i := range res.Recipients {
			if res.Recipients[i].ID == *req.RecipientID {
				recipient = &res.Recipients[i]
				break
			}
		}
		if recipient == nil {
			return nil, &ValidationError{Field: "recipient_id", Reason: "is not a recipient of this block"}
		}
	} else if len(res.Recipients) > 0 {
		recipient = &res.Recipients[0]
	} else {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("block %d has no recipients to preview", order)}
	}

	subjectTmpl := block.SubjectTemplate
	if req.SubjectOverride != nil && *req.SubjectOverride != "" {
		subjectTmpl = *req.SubjectOverride
	}
	bodyTmpl := block.BodyTemplate
	if req.BodyOverride != nil && *req.BodyOverride != "" {
		bodyTmpl = *req.BodyOverride
	}

	vars := WithDate(BuildVariables(*recipient, res.Drive), s.now())

	subject, err := s.templateSvc.Render(subjectTmpl, vars)
	if err != nil {
		return nil, &ValidationError{Field: "subject", Reason: err.Error()}
	}
	body, err := s.templateSvc.RenderHTML(bodyTmpl, vars)
	if err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}

	unknown := s.templateSvc.UnknownPlaceholders(subjectTmpl, vars)
	for _, name := range s.templateSvc.UnknownPlaceholders(bodyTmpl, vars) {
		if !contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}

	return &EmailPreview{
		CampaignID:          campaignID,
		BlockOrder:          order,
		Recipient:           *recipient,
		Subject:             subject,
		Body:                body,
		UnknownPlaceholders: unknown,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
