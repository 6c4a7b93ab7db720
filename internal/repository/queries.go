package repository

const jobColumns = `
    id, campaign_id, block_id, recipient_id, recipient_email, recipient_name,
    variables, rendered_subject, rendered_body, status, attempts, last_error,
    failure_reason, available_at, lease_token, leased_until,
    created_at, updated_at, completed_at`

const queryInsertJob = `
INSERT INTO send_jobs (id, campaign_id, block_id, recipient_id, recipient_email, recipient_name, variables, status, available_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', NOW())
ON CONFLICT DO NOTHING
`

const queryMarkBlockQueued = `
UPDATE message_blocks
SET status = 'queued', resolved_count = $2, resolved_at = NOW()
WHERE id = $1
`

// Pending jobs become visible at available_at; sending jobs become
// claimable again once their lease expires. Reclaiming an expired lease
// counts the lost attempt.
const queryClaimJob = `
WITH next AS (
    SELECT j.id
    FROM send_jobs j
    JOIN campaigns c ON c.id = j.campaign_id
    WHERE c.status IN ('queued', 'sending')
      AND ((j.status = 'pending' AND j.available_at <= NOW())
        OR (j.status = 'sending' AND j.leased_until < NOW()))
    ORDER BY j.available_at ASC, j.id
    LIMIT 1
    FOR UPDATE OF j SKIP LOCKED
)
UPDATE send_jobs j
SET status = 'sending',
    attempts = CASE WHEN j.status = 'sending' THEN j.attempts + 1 ELSE j.attempts END,
    last_error = CASE WHEN j.status = 'sending' THEN 'lease expired' ELSE j.last_error END,
    lease_token = $1,
    leased_until = NOW() + make_interval(secs => $2),
    updated_at = NOW()
FROM next
WHERE j.id = next.id
RETURNING` + jobColumns

const querySaveRendered = `
UPDATE send_jobs
SET rendered_subject = COALESCE(rendered_subject, $3),
    rendered_body = COALESCE(rendered_body, $4),
    updated_at = NOW()
WHERE id = $1 AND lease_token = $2 AND status = 'sending'
`

const queryMarkSent = `
UPDATE send_jobs
SET status = 'sent', attempts = $3, last_error = NULL,
    lease_token = NULL, leased_until = NULL,
    completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND lease_token = $2 AND status = 'sending'
`

const queryMarkFailed = `
UPDATE send_jobs
SET status = 'failed', attempts = $3, failure_reason = $4, last_error = $5,
    lease_token = NULL, leased_until = NULL,
    completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND lease_token = $2 AND status = 'sending'
`

// Only jobs of campaigns that still accept deliveries go back to pending.
const queryReleaseJob = `
UPDATE send_jobs
SET status = 'pending', attempts = $3, available_at = $4, last_error = $5,
    lease_token = NULL, leased_until = NULL, updated_at = NOW()
WHERE id = $1 AND lease_token = $2 AND status = 'sending'
  AND EXISTS (
      SELECT 1 FROM campaigns c
      WHERE c.id = send_jobs.campaign_id AND c.status IN ('queued', 'sending')
  )
`

const queryLeaseHeld = `
SELECT EXISTS (
    SELECT 1 FROM send_jobs
    WHERE id = $1 AND lease_token = $2 AND status = 'sending'
)
`

const queryMarkCancelled = `
UPDATE send_jobs
SET status = 'cancelled', last_error = $3,
    lease_token = NULL, leased_until = NULL,
    completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND lease_token = $2 AND status = 'sending'
`

const queryCancelPendingJobs = `
UPDATE send_jobs
SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
WHERE campaign_id = $1 AND status = 'pending'
`

const queryCancelAbandonedJobs = `
UPDATE send_jobs j
SET status = 'cancelled', lease_token = NULL, leased_until = NULL,
    completed_at = NOW(), updated_at = NOW()
FROM campaigns c
WHERE c.id = j.campaign_id
  AND c.status = 'cancelled'
  AND (j.status = 'pending'
    OR (j.status = 'sending' AND j.leased_until < NOW()))
`

const queryJobCounts = `
SELECT
    block_id,
    COUNT(*) AS total,
    COUNT(*) FILTER (WHERE status = 'pending') AS pending,
    COUNT(*) FILTER (WHERE status = 'sending') AS sending,
    COUNT(*) FILTER (WHERE status = 'sent') AS sent,
    COUNT(*) FILTER (WHERE status = 'failed') AS failed,
    COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
    COUNT(*) FILTER (WHERE status <> 'pending' OR attempts > 0) AS started
FROM send_jobs
WHERE campaign_id = $1
GROUP BY block_id
ORDER BY block_id
`

const queryGetJobByID = `SELECT` + jobColumns + `
FROM send_jobs
WHERE id = $1
`

const queryInsertDeliveryRecord = `
INSERT INTO delivery_records (id, job_id, attempt, outcome, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryListDeliveryRecords = `
SELECT id, job_id, attempt, outcome, error, created_at
FROM delivery_records
WHERE job_id = $1
ORDER BY attempt ASC, created_at ASC
`
