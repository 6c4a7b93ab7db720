package testutil

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"placementmail/internal/models"
	"placementmail/internal/repository"
)

// MemoryStore holds campaigns, blocks, jobs and delivery records in memory
// with the same lease and guard semantics as the Postgres repositories.
// Campaigns, Jobs and Deliveries expose it through the repository
// interfaces.
type MemoryStore struct {
	mu    sync.Mutex
	clock *FakeClock

	campaigns map[int]*models.Campaign
	blocks    map[int]*models.MessageBlock
	jobs      map[uuid.UUID]*models.SendJob
	records   []*models.DeliveryRecord

	nextCampaignID int
	nextBlockID    int

	// ClaimErr, when set, is returned by Claim
	ClaimErr error
	// GetBlockCalls counts GetBlock calls
	GetBlockCalls int
}

// NewMemoryStore creates an empty store reading time from clock
func NewMemoryStore(clock *FakeClock) *MemoryStore {
	return &MemoryStore{
		clock:     clock,
		campaigns: make(map[int]*models.Campaign),
		blocks:    make(map[int]*models.MessageBlock),
		jobs:      make(map[uuid.UUID]*models.SendJob),
	}
}

// Campaigns returns the campaign repository view
func (s *MemoryStore) Campaigns() *MemoryCampaigns { return &MemoryCampaigns{s} }

// Jobs returns the job repository view
func (s *MemoryStore) Jobs() *MemoryJobs { return &MemoryJobs{s} }

// Deliveries returns the delivery repository view
func (s *MemoryStore) Deliveries() *MemoryDeliveries { return &MemoryDeliveries{s} }

// Job returns a copy of a stored job
func (s *MemoryStore) Job(id uuid.UUID) (models.SendJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.SendJob{}, false
	}
	return copyJob(j), true
}

// CampaignJobs returns copies of a campaign's jobs ordered by block and recipient
func (s *MemoryStore) CampaignJobs(campaignID int) []models.SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SendJob
	for _, j := range s.sortedJobs() {
		if j.CampaignID == campaignID {
			out = append(out, copyJob(j))
		}
	}
	return out
}

// Records returns every delivery record of a job
func (s *MemoryStore) Records(jobID uuid.UUID) []models.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryRecord
	for _, r := range s.records {
		if r.JobID == jobID {
			out = append(out, *r)
		}
	}
	return out
}

// CampaignStatus returns the stored status of a campaign
func (s *MemoryStore) CampaignStatus(id int) models.CampaignStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return c.Status
	}
	return ""
}

func (s *MemoryStore) sortedJobs() []*models.SendJob {
	jobs := make([]*models.SendJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].BlockID != jobs[k].BlockID {
			return jobs[i].BlockID < jobs[k].BlockID
		}
		return jobs[i].RecipientID < jobs[k].RecipientID
	})
	return jobs
}

func copyJob(j *models.SendJob) models.SendJob {
	out := *j
	if j.Variables != nil {
		out.Variables = make(map[string]string, len(j.Variables))
		for k, v := range j.Variables {
			out.Variables[k] = v
		}
	}
	return out
}

func copyCampaign(c *models.Campaign, withBlocks bool) *models.Campaign {
	out := *c
	out.Blocks = nil
	if withBlocks {
		out.Blocks = append([]models.MessageBlock(nil), c.Blocks...)
	}
	return &out
}

// MemoryCampaigns implements repository.CampaignRepository
type MemoryCampaigns struct{ s *MemoryStore }

var _ repository.CampaignRepository = (*MemoryCampaigns)(nil)

func (r *MemoryCampaigns) Create(ctx context.Context, campaign *models.Campaign) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.nextCampaignID++
	campaign.ID = s.nextCampaignID
	if campaign.Status == "" {
		campaign.Status = models.CampaignStatusDraft
	}
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	for i := range campaign.Blocks {
		s.nextBlockID++
		b := &campaign.Blocks[i]
		b.ID = s.nextBlockID
		b.CampaignID = campaign.ID
		b.BlockOrder = i + 1
		b.Status = models.BlockStatusDraft
		b.CreatedAt = now
		stored := *b
		s.blocks[b.ID] = &stored
	}

	s.campaigns[campaign.ID] = copyCampaign(campaign, false)
	return nil
}

func (r *MemoryCampaigns) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyCampaign(c, false)
	out.Blocks = s.blocksOf(id)
	return out, nil
}

func (s *MemoryStore) blocksOf(campaignID int) []models.MessageBlock {
	var blocks []models.MessageBlock
	for _, b := range s.blocks {
		if b.CampaignID == campaignID {
			blocks = append(blocks, *b)
		}
	}
	sort.Slice(blocks, func(i, k int) bool { return blocks[i].BlockOrder < blocks[k].BlockOrder })
	return blocks
}

func (r *MemoryCampaigns) GetBlock(ctx context.Context, blockID int) (*models.MessageBlock, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.GetBlockCalls++
	b, ok := s.blocks[blockID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (r *MemoryCampaigns) List(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Campaign
	for _, c := range s.campaigns {
		if filters.DriveID != nil && c.DriveID != *filters.DriveID {
			continue
		}
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		matched = append(matched, copyCampaign(c, false))
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].ID > matched[k].ID })

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	page := []*models.Campaign{}
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		page = append(page, matched[i])
	}
	return page, len(matched), nil
}

func (r *MemoryCampaigns) ListActive(ctx context.Context) ([]int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int
	for id, c := range s.campaigns {
		if c.Status.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *MemoryCampaigns) UpdateStatus(ctx context.Context, id int, from, to models.CampaignStatus) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatusLocked(id, from, to)
}

func (s *MemoryStore) updateStatusLocked(id int, from, to models.CampaignStatus) error {
	c, ok := s.campaigns[id]
	if !ok || c.Status != from {
		return repository.ErrStatusConflict
	}
	now := s.clock.Now()
	c.Status = to
	c.UpdatedAt = now
	if to == models.CampaignStatusCancelled {
		c.CancelledAt = &now
	}
	return nil
}

// MemoryJobs implements repository.JobRepository
type MemoryJobs struct{ s *MemoryStore }

var _ repository.JobRepository = (*MemoryJobs)(nil)

func (r *MemoryJobs) Enqueue(ctx context.Context, jobs []*models.SendJob) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(jobs), nil
}

func (s *MemoryStore) insertLocked(jobs []*models.SendJob) int {
	now := s.clock.Now()
	inserted := 0
	for _, j := range jobs {
		if _, exists := s.jobs[j.ID]; exists {
			continue
		}
		stored := copyJob(j)
		stored.Status = models.JobStatusPending
		stored.Attempts = 0
		stored.AvailableAt = now
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.jobs[j.ID] = &stored
		inserted++
	}
	return inserted
}

func (r *MemoryJobs) EnqueueCampaign(ctx context.Context, plan repository.DispatchPlan) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateStatusLocked(plan.CampaignID, models.CampaignStatusDraft, models.CampaignStatusQueued); err != nil {
		return 0, err
	}

	inserted := s.insertLocked(plan.Jobs)

	now := s.clock.Now()
	for _, rb := range plan.Blocks {
		if b, ok := s.blocks[rb.BlockID]; ok {
			count := rb.Count
			b.Status = models.BlockStatusQueued
			b.ResolvedCount = &count
			b.ResolvedAt = &now
		}
	}
	return inserted, nil
}

func (r *MemoryJobs) Claim(ctx context.Context, lease time.Duration) (*models.SendJob, error) {
	s := r.s
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ClaimErr != nil {
		return nil, s.ClaimErr
	}

	now := s.clock.Now()
	var next *models.SendJob
	for _, j := range s.jobs {
		c, ok := s.campaigns[j.CampaignID]
		if !ok || !c.Status.IsActive() {
			continue
		}
		visible := (j.Status == models.JobStatusPending && !j.AvailableAt.After(now)) ||
			(j.Status == models.JobStatusSending && j.LeasedUntil != nil && j.LeasedUntil.Before(now))
		if !visible {
			continue
		}
		if next == nil || j.AvailableAt.Before(next.AvailableAt) ||
			(j.AvailableAt.Equal(next.AvailableAt) && bytes.Compare(j.ID[:], next.ID[:]) < 0) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	if next.Status == models.JobStatusSending {
		expired := "lease expired"
		next.Attempts++
		next.LastError = &expired
	}
	token := uuid.New()
	until := now.Add(lease)
	next.Status = models.JobStatusSending
	next.LeaseToken = &token
	next.LeasedUntil = &until
	next.UpdatedAt = now

	out := copyJob(next)
	return &out, nil
}

// leased returns the stored job when the caller's lease still owns it
func (s *MemoryStore) leased(job *models.SendJob) (*models.SendJob, error) {
	stored, ok := s.jobs[job.ID]
	if !ok || job.LeaseToken == nil || stored.LeaseToken == nil ||
		*stored.LeaseToken != *job.LeaseToken || stored.Status != models.JobStatusSending {
		return nil, repository.ErrLeaseLost
	}
	return stored, nil
}

func (r *MemoryJobs) SaveRendered(ctx context.Context, job *models.SendJob, subject, body string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leased(job)
	if err != nil {
		return err
	}
	if stored.RenderedSubject == nil {
		stored.RenderedSubject = &subject
	}
	if stored.RenderedBody == nil {
		stored.RenderedBody = &body
	}
	job.RenderedSubject = stored.RenderedSubject
	job.RenderedBody = stored.RenderedBody
	return nil
}

func (r *MemoryJobs) MarkSent(ctx context.Context, job *models.SendJob, attempts int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leased(job)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	stored.Status = models.JobStatusSent
	stored.Attempts = attempts
	stored.LastError = nil
	stored.LeaseToken = nil
	stored.LeasedUntil = nil
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	job.Status = models.JobStatusSent
	job.Attempts = attempts
	return nil
}

func (r *MemoryJobs) MarkFailed(ctx context.Context, job *models.SendJob, attempts int, reason models.FailureReason, lastError string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leased(job)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	stored.Status = models.JobStatusFailed
	stored.Attempts = attempts
	stored.FailureReason = &reason
	stored.LastError = &lastError
	stored.LeaseToken = nil
	stored.LeasedUntil = nil
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	job.Status = models.JobStatusFailed
	job.Attempts = attempts
	job.FailureReason = &reason
	job.LastError = &lastError
	return nil
}

func (r *MemoryJobs) Release(ctx context.Context, job *models.SendJob, attempts int, availableAt time.Time, lastError string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leased(job)
	if err != nil {
		return err
	}
	if c, ok := s.campaigns[stored.CampaignID]; !ok || !c.Status.IsActive() {
		return repository.ErrCampaignClosed
	}
	stored.Status = models.JobStatusPending
	stored.Attempts = attempts
	stored.AvailableAt = availableAt
	stored.LastError = nil
	if lastError != "" {
		stored.LastError = &lastError
	}
	stored.LeaseToken = nil
	stored.LeasedUntil = nil
	stored.UpdatedAt = s.clock.Now()

	job.Status = models.JobStatusPending
	job.Attempts = attempts
	job.AvailableAt = availableAt
	return nil
}

func (r *MemoryJobs) MarkCancelled(ctx context.Context, job *models.SendJob, reason string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leased(job)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	stored.Status = models.JobStatusCancelled
	stored.LastError = &reason
	stored.LeaseToken = nil
	stored.LeasedUntil = nil
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	job.Status = models.JobStatusCancelled
	job.LastError = &reason
	return nil
}

func (r *MemoryJobs) CancelCampaign(ctx context.Context, campaignID int, from models.CampaignStatus) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateStatusLocked(campaignID, from, models.CampaignStatusCancelled); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	cancelled := 0
	for _, j := range s.jobs {
		if j.CampaignID == campaignID && j.Status == models.JobStatusPending {
			j.Status = models.JobStatusCancelled
			j.CompletedAt = &now
			j.UpdatedAt = now
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *MemoryJobs) CancelAbandoned(ctx context.Context) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cancelled := 0
	for _, j := range s.jobs {
		c, ok := s.campaigns[j.CampaignID]
		if !ok || c.Status != models.CampaignStatusCancelled {
			continue
		}
		expired := j.Status == models.JobStatusSending && j.LeasedUntil != nil && j.LeasedUntil.Before(now)
		if expired || j.Status == models.JobStatusPending {
			j.Status = models.JobStatusCancelled
			j.LeaseToken = nil
			j.LeasedUntil = nil
			j.CompletedAt = &now
			j.UpdatedAt = now
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *MemoryJobs) Counts(ctx context.Context, campaignID int) ([]models.BlockCounts, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	byBlock := map[int]*models.BlockCounts{}
	var order []int
	for _, j := range s.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		bc, ok := byBlock[j.BlockID]
		if !ok {
			bc = &models.BlockCounts{BlockID: j.BlockID}
			byBlock[j.BlockID] = bc
			order = append(order, j.BlockID)
		}
		bc.Total++
		switch j.Status {
		case models.JobStatusPending:
			bc.Pending++
		case models.JobStatusSending:
			bc.Sending++
		case models.JobStatusSent:
			bc.Sent++
		case models.JobStatusFailed:
			bc.Failed++
		case models.JobStatusCancelled:
			bc.Cancelled++
		}
		if j.Status != models.JobStatusPending || j.Attempts > 0 {
			bc.Started++
		}
	}

	sort.Ints(order)
	counts := make([]models.BlockCounts, 0, len(order))
	for _, id := range order {
		counts = append(counts, *byBlock[id])
	}
	return counts, nil
}

func (r *MemoryJobs) GetByID(ctx context.Context, id uuid.UUID) (*models.SendJob, error) {
	j, ok := r.s.Job(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &j, nil
}

func (r *MemoryJobs) ListByCampaign(ctx context.Context, campaignID int, filters repository.JobFilters) ([]*models.SendJob, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.SendJob
	for _, j := range s.sortedJobs() {
		if j.CampaignID != campaignID {
			continue
		}
		if filters.Status != nil && j.Status != *filters.Status {
			continue
		}
		if filters.BlockID != nil && j.BlockID != *filters.BlockID {
			continue
		}
		out := copyJob(j)
		matched = append(matched, &out)
	}

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	page := []*models.SendJob{}
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		page = append(page, matched[i])
	}
	return page, len(matched), nil
}

// MemoryDeliveries implements repository.DeliveryRepository
type MemoryDeliveries struct{ s *MemoryStore }

var _ repository.DeliveryRepository = (*MemoryDeliveries)(nil)

func (r *MemoryDeliveries) Append(ctx context.Context, record *models.DeliveryRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}
	stored := *record
	s.records = append(s.records, &stored)
	return nil
}

func (r *MemoryDeliveries) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.DeliveryRecord, error) {
	records := []*models.DeliveryRecord{}
	for _, rec := range r.s.Records(jobID) {
		rec := rec
		records = append(records, &rec)
	}
	return records, nil
}
