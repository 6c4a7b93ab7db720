// Package metrics records worker activity. Every Sink method is
// fire-and-forget: implementations must not block or return errors.
package metrics

import "time"

// Sink is the metrics surface used by the send worker and sweeper
type Sink interface {
	JobClaimed()
	DeliveryAttempt(outcome string, duration time.Duration)
	RetryScheduled()
	LeaseLost()
	CircuitOpen(domain string)
	InFlightIncr()
	InFlightDecr()
	RateLimitWait(wait time.Duration)
	SweepCompleted(abandoned int)
}

// Attempt outcome labels
const (
	OutcomeSent   = "sent"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
)
