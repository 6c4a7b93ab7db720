package metrics

import "time"

// NoopSink discards everything
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) JobClaimed()                           {}
func (NoopSink) DeliveryAttempt(string, time.Duration) {}
func (NoopSink) RetryScheduled()                       {}
func (NoopSink) LeaseLost()                            {}
func (NoopSink) CircuitOpen(string)                    {}
func (NoopSink) InFlightIncr()                         {}
func (NoopSink) InFlightDecr()                         {}
func (NoopSink) RateLimitWait(time.Duration)           {}
func (NoopSink) SweepCompleted(int)                    {}

// OrNoop returns s, or a NoopSink when s is nil
func OrNoop(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return s
}
