package mailer

import (
	"context"
	"errors"
	"math/rand"
	"net/mail"
	"net/textproto"
	"sync"
	"time"
)

// SimulatedTransport pretends to send, succeeding with a configured
// probability. Used in development in place of a real relay.
type SimulatedTransport struct {
	successRate float64 // 0.0 to 1.0 (e.g., 0.95 = 95% success)
	minLatency  time.Duration
	maxLatency  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

var simulatedFailures = []*textproto.Error{
	{Code: 421, Msg: "service not available, closing transmission channel"},
	{Code: 451, Msg: "requested action aborted: local error in processing"},
	{Code: 452, Msg: "insufficient system storage"},
	{Code: 550, Msg: "mailbox unavailable"},
	{Code: 553, Msg: "mailbox name not allowed"},
}

// NewSimulatedTransport creates a simulated transport.
// successRate is clamped to [0, 1].
func NewSimulatedTransport(successRate float64, seed int64) *SimulatedTransport {
	if successRate < 0.0 {
		successRate = 0.0
	}
	if successRate > 1.0 {
		successRate = 1.0
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &SimulatedTransport{
		successRate: successRate,
		minLatency:  50 * time.Millisecond,
		maxLatency:  200 * time.Millisecond,
		rand:        rand.New(rand.NewSource(seed)),
	}
}

// WithLatency overrides the simulated latency range
func (s *SimulatedTransport) WithLatency(min, max time.Duration) *SimulatedTransport {
	if max < min {
		max = min
	}
	s.minLatency, s.maxLatency = min, max
	return s
}

// Send simulates a delivery
func (s *SimulatedTransport) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return PermanentError(err)
	}

	s.mu.Lock()
	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		latency += time.Duration(s.rand.Int63n(int64(spread)))
	}
	success := s.rand.Float64() < s.successRate
	failure := simulatedFailures[s.rand.Intn(len(simulatedFailures))]
	s.mu.Unlock()

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return TransientError(ctx.Err())
	case <-timer.C:
	}

	if success {
		return nil
	}
	return Classify(errors.Join(errors.New("simulated delivery to "+msg.To+" failed"), failure))
}
