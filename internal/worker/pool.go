// Package worker drains the send_jobs queue. Each worker leases one job at a
// time, renders it once, sends it through the mail transport under a shared
// rate limit and records the outcome against its lease.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"placementmail/internal/circuitbreaker"
	"placementmail/internal/logging"
	"placementmail/internal/mailer"
	"placementmail/internal/metrics"
	"placementmail/internal/models"
	"placementmail/internal/ratelimit"
	"placementmail/internal/repository"
	"placementmail/internal/service"
)

// Queue is the part of the job repository the pool works against
type Queue interface {
	Claim(ctx context.Context, lease time.Duration) (*models.SendJob, error)
	SaveRendered(ctx context.Context, job *models.SendJob, subject, body string) error
	MarkSent(ctx context.Context, job *models.SendJob, attempts int) error
	MarkFailed(ctx context.Context, job *models.SendJob, attempts int, reason models.FailureReason, lastError string) error
	Release(ctx context.Context, job *models.SendJob, attempts int, availableAt time.Time, lastError string) error
	MarkCancelled(ctx context.Context, job *models.SendJob, reason string) error
}

// AuditLog receives one record per delivery attempt
type AuditLog interface {
	Append(ctx context.Context, record *models.DeliveryRecord) error
}

// Templates loads the block a job was created from
type Templates interface {
	GetBlock(ctx context.Context, blockID int) (*models.MessageBlock, error)
}

// StatusTracker keeps campaign status in step with job progress
type StatusTracker interface {
	NoteClaim(ctx context.Context, campaignID int) error
	Refresh(ctx context.Context, campaignID int) (models.CampaignStatus, error)
}

// Renderer renders subject (plain) and body (HTML) templates
type Renderer interface {
	Render(template string, vars map[string]string) (string, error)
	RenderHTML(template string, vars map[string]string) (string, error)
}

// Config holds pool tuning
type Config struct {
	Concurrency   int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	LeaseDuration time.Duration
	PollInterval  time.Duration
	SendTimeout   time.Duration
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		MaxAttempts:   3,
		BaseBackoff:   30 * time.Second,
		MaxBackoff:    10 * time.Minute,
		LeaseDuration: 2 * time.Minute,
		PollInterval:  2 * time.Second,
		SendTimeout:   30 * time.Second,
	}
}

// Deps are the collaborators of a Pool. Breaker, Metrics and Logger are
// optional.
type Deps struct {
	Queue     Queue
	Audit     AuditLog
	Templates Templates
	Tracker   StatusTracker
	Renderer  Renderer
	Transport mailer.Transport
	Limiter   ratelimit.Limiter
	Breaker   *circuitbreaker.CircuitBreaker
	Metrics   metrics.Sink
	Logger    *zap.Logger
}

// Pool runs Concurrency workers over the dispatch queue
type Pool struct {
	cfg       Config
	queue     Queue
	audit     AuditLog
	templates Templates
	tracker   StatusTracker
	renderer  Renderer
	transport mailer.Transport
	limiter   ratelimit.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	metrics   metrics.Sink
	logger    *zap.Logger

	wake chan struct{}
	now  func() time.Time

	mu     sync.RWMutex
	blocks map[int]*models.MessageBlock
}

// New creates a pool
func New(cfg Config, deps Deps) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	return &Pool{
		cfg:       cfg,
		queue:     deps.Queue,
		audit:     deps.Audit,
		templates: deps.Templates,
		tracker:   deps.Tracker,
		renderer:  deps.Renderer,
		transport: deps.Transport,
		limiter:   deps.Limiter,
		breaker:   deps.Breaker,
		metrics:   metrics.OrNoop(deps.Metrics),
		logger:    logging.OrNop(deps.Logger),
		wake:      make(chan struct{}, cfg.Concurrency),
		now:       time.Now,
		blocks:    make(map[int]*models.MessageBlock),
	}
}

// WithClock replaces the pool's clock
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Wake nudges idle workers to look for work before their poll interval ends
func (p *Pool) Wake() {
	for i := 0; i < cap(p.wake); i++ {
		select {
		case p.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight job has been acknowledged.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Int("max_attempts", p.cfg.MaxAttempts),
		zap.Duration("lease", p.cfg.LeaseDuration),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := p.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("claim failed", zap.Error(err))
		}
		if processed {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.cfg.PollInterval)

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

// ProcessOne claims and handles a single job. It reports false when no job
// was claimable.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Claim(ctx, p.cfg.LeaseDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.metrics.JobClaimed()
	p.metrics.InFlightIncr()
	defer p.metrics.InFlightDecr()

	p.process(ctx, job)
	return true, nil
}

// process handles one leased job. Acknowledgements run on a context that
// survives shutdown so a send that happened is always recorded.
func (p *Pool) process(ctx context.Context, job *models.SendJob) {
	ackCtx := context.WithoutCancel(ctx)
	logger := p.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.Int("campaign_id", job.CampaignID),
		zap.Int("block_id", job.BlockID),
	)

	if err := p.tracker.NoteClaim(ackCtx, job.CampaignID); err != nil {
		logger.Warn("failed to mark campaign sending", zap.Error(err))
	}

	if job.Attempts >= p.cfg.MaxAttempts {
		// Every lease this job held expired before it was acknowledged.
		reason := fmt.Sprintf("lease expired %d times", job.Attempts)
		if err := p.queue.MarkFailed(ackCtx, job, job.Attempts, models.FailureRetriesExhausted, reason); err != nil {
			p.handleAckError(logger, err, "mark failed")
			return
		}
		logger.Warn("job abandoned by every worker that claimed it", zap.Int("attempts", job.Attempts))
		p.refresh(ackCtx, logger, job.CampaignID)
		return
	}

	attempt := job.Attempts + 1

	if !job.IsRendered() {
		done, err := p.render(ackCtx, logger, job, attempt)
		if err != nil {
			p.handleAckError(logger, err, "render")
			return
		}
		if done {
			logger.Warn("job failed to render", zap.Stringp("error", job.LastError))
			p.refresh(ackCtx, logger, job.CampaignID)
			return
		}
	}

	domain := circuitbreaker.Domain(job.RecipientEmail)
	if p.breaker != nil {
		if err := p.breaker.Allow(domain); err != nil {
			p.metrics.CircuitOpen(domain)
			availableAt := p.now().Add(p.breaker.Cooldown())
			p.requeue(ackCtx, logger, job, availableAt, fmt.Sprintf("%v for %s", err, domain), "defer")
			return
		}
	}

	waitStart := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			// Shutting down before the send started: hand the job straight back.
			p.requeue(ackCtx, logger, job, p.now(), "", "release")
			return
		}
		logger.Warn("rate limiter unavailable", zap.Error(err))
		retryAt := p.now().Add(p.cfg.PollInterval)
		p.requeue(ackCtx, logger, job, retryAt, fmt.Sprintf("rate limiter: %v", err), "release")
		return
	}
	p.metrics.RateLimitWait(time.Since(waitStart))

	sendCtx, cancel := context.WithTimeout(ackCtx, p.cfg.SendTimeout)
	start := time.Now()
	sendErr := mailer.Classify(p.transport.Send(sendCtx, p.message(job)))
	elapsed := time.Since(start)
	cancel()

	p.settle(ackCtx, logger, job, attempt, domain, sendErr, elapsed)
}

// render materializes subject and body. It reports done when the job was
// failed because its templates do not render.
func (p *Pool) render(ctx context.Context, logger *zap.Logger, job *models.SendJob, attempt int) (bool, error) {
	block, err := p.block(ctx, job.BlockID)
	if err != nil {
		// Infrastructure trouble, not the job's fault: no attempt used.
		p.requeue(ctx, logger, job, p.now().Add(p.cfg.PollInterval), err.Error(), "release")
		return false, fmt.Errorf("failed to load block %d: %w", job.BlockID, err)
	}

	vars := service.WithDate(job.Variables, p.now())

	subject, err := p.renderer.Render(block.SubjectTemplate, vars)
	if err == nil {
		var body string
		body, err = p.renderer.RenderHTML(block.BodyTemplate, vars)
		if err == nil {
			return false, p.queue.SaveRendered(ctx, job, subject, body)
		}
	}

	p.record(ctx, job, attempt, models.OutcomeFailed, err.Error())
	return true, p.queue.MarkFailed(ctx, job, attempt, models.FailureRender, err.Error())
}

func (p *Pool) block(ctx context.Context, blockID int) (*models.MessageBlock, error) {
	p.mu.RLock()
	b, ok := p.blocks[blockID]
	p.mu.RUnlock()
	if ok {
		return b, nil
	}

	b, err := p.templates.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.blocks[blockID] = b
	p.mu.Unlock()
	return b, nil
}

func (p *Pool) message(job *models.SendJob) mailer.Message {
	return mailer.Message{
		To:       job.RecipientEmail,
		ToName:   job.RecipientName,
		Subject:  *job.RenderedSubject,
		HTMLBody: *job.RenderedBody,
		Headers: map[string]string{
			"X-Campaign-ID": fmt.Sprint(job.CampaignID),
			"X-Job-ID":      job.ID.String(),
		},
	}
}

// settle records the attempt and moves the job to its next state
func (p *Pool) settle(ctx context.Context, logger *zap.Logger, job *models.SendJob, attempt int, domain string, sendErr error, elapsed time.Duration) {
	logger = logger.With(zap.Int("attempt", attempt), zap.Duration("elapsed", elapsed))

	switch {
	case sendErr == nil:
		p.metrics.DeliveryAttempt(metrics.OutcomeSent, elapsed)
		if p.breaker != nil {
			p.breaker.RecordSuccess(domain)
		}
		p.record(ctx, job, attempt, models.OutcomeSent, "")
		if err := p.queue.MarkSent(ctx, job, attempt); err != nil {
			p.handleAckError(logger, err, "mark sent")
			return
		}
		logger.Debug("email sent")

	case mailer.IsPermanent(sendErr):
		p.metrics.DeliveryAttempt(metrics.OutcomeFailed, elapsed)
		p.record(ctx, job, attempt, models.OutcomeFailed, sendErr.Error())
		if err := p.queue.MarkFailed(ctx, job, attempt, models.FailureTransportPermanent, sendErr.Error()); err != nil {
			p.handleAckError(logger, err, "mark failed")
			return
		}
		logger.Warn("email rejected", zap.Error(sendErr))

	default:
		if p.breaker != nil {
			p.breaker.RecordFailure(domain)
		}

		reason := models.FailureRetriesExhausted
		if attempt < p.cfg.MaxAttempts {
			delay := p.backoff(attempt)
			err := p.queue.Release(ctx, job, attempt, p.now().Add(delay), sendErr.Error())
			if !errors.Is(err, repository.ErrCampaignClosed) {
				p.metrics.DeliveryAttempt(metrics.OutcomeRetry, elapsed)
				p.record(ctx, job, attempt, models.OutcomeRetry, sendErr.Error())
				if err != nil {
					p.handleAckError(logger, err, "release")
					return
				}
				p.metrics.RetryScheduled()
				logger.Info("email send will be retried", zap.Duration("backoff", delay), zap.Error(sendErr))
				return
			}
			// Cancelled while this send was in flight: no retry would ever be
			// claimed, so the attempt is final.
			reason = models.FailureCampaignCancelled
		}

		p.metrics.DeliveryAttempt(metrics.OutcomeFailed, elapsed)
		p.record(ctx, job, attempt, models.OutcomeFailed, sendErr.Error())
		if err := p.queue.MarkFailed(ctx, job, attempt, reason, sendErr.Error()); err != nil {
			p.handleAckError(logger, err, "mark failed")
			return
		}
		logger.Warn("email failed", zap.String("reason", string(reason)), zap.Error(sendErr))
	}

	p.refresh(ctx, logger, job.CampaignID)
}

// record appends a delivery record. A lost audit row is logged but never
// blocks the acknowledgement.
func (p *Pool) record(ctx context.Context, job *models.SendJob, attempt int, outcome models.DeliveryOutcome, errText string) {
	rec := &models.DeliveryRecord{
		JobID:   job.ID,
		Attempt: attempt,
		Outcome: outcome,
	}
	if errText != "" {
		rec.Error = &errText
	}
	if err := p.audit.Append(ctx, rec); err != nil {
		p.logger.Error("failed to append delivery record",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// requeue hands a job back without using an attempt. A job whose campaign
// was cancelled meanwhile is cancelled instead.
func (p *Pool) requeue(ctx context.Context, logger *zap.Logger, job *models.SendJob, availableAt time.Time, lastError, op string) {
	err := p.queue.Release(ctx, job, job.Attempts, availableAt, lastError)
	if errors.Is(err, repository.ErrCampaignClosed) {
		op = "cancel"
		err = p.queue.MarkCancelled(ctx, job, "campaign cancelled before delivery")
	}
	p.handleAckError(logger, err, op)
}

func (p *Pool) refresh(ctx context.Context, logger *zap.Logger, campaignID int) {
	if _, err := p.tracker.Refresh(ctx, campaignID); err != nil {
		logger.Error("failed to refresh campaign status", zap.Error(err))
	}
}

func (p *Pool) handleAckError(logger *zap.Logger, err error, op string) {
	if err == nil {
		return
	}
	if errors.Is(err, repository.ErrLeaseLost) {
		p.metrics.LeaseLost()
		logger.Warn("lease lost before acknowledgement", zap.String("op", op))
		return
	}
	logger.Error("job step failed", zap.String("op", op), zap.Error(err))
}

// backoff returns base·2^(attempt-1), capped at MaxBackoff
func (p *Pool) backoff(attempt int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff || d <= 0 {
			return p.cfg.MaxBackoff
		}
	}
	if p.cfg.MaxBackoff > 0 && d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}
