package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(threshold, cooldown)
	cb.now = clock.now
	return cb, clock
}

func tripOpen(cb *CircuitBreaker, key string, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(key)
	}
}

func TestAllow_UnknownDomain_Allowed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	assert.NoError(t, cb.Allow("example.edu"))
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	tripOpen(cb, "example.edu", 2)
	assert.NoError(t, cb.Allow("example.edu"))
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	tripOpen(cb, "example.edu", 3)
	assert.ErrorIs(t, cb.Allow("example.edu"), ErrCircuitOpen)
	assert.NoError(t, cb.Allow("other.edu"), "other domains are unaffected")
}

func TestAllow_OpenAfterCooldown_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	tripOpen(cb, "example.edu", 3)

	clock.advance(time.Minute)
	assert.NoError(t, cb.Allow("example.edu"), "probe allowed")
	assert.ErrorIs(t, cb.Allow("example.edu"), ErrCircuitOpen, "second caller waits for the probe")
}

func TestAllow_LostProbeIsReplaced(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	tripOpen(cb, "example.edu", 3)

	clock.advance(time.Minute)
	assert.NoError(t, cb.Allow("example.edu"))

	clock.advance(time.Minute)
	assert.NoError(t, cb.Allow("example.edu"))
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	tripOpen(cb, "example.edu", 3)
	clock.advance(time.Minute)
	_ = cb.Allow("example.edu")

	cb.RecordSuccess("example.edu")
	assert.NoError(t, cb.Allow("example.edu"))

	tripOpen(cb, "example.edu", 2)
	assert.NoError(t, cb.Allow("example.edu"), "failure count restarted")
}

func TestRecordFailure_HalfOpenReopens(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	tripOpen(cb, "example.edu", 3)
	clock.advance(time.Minute)
	_ = cb.Allow("example.edu")

	cb.RecordFailure("example.edu")
	assert.ErrorIs(t, cb.Allow("example.edu"), ErrCircuitOpen)
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.edu", Domain("Asha@Example.EDU"))
	assert.Equal(t, "mail.college.ac.in", Domain("a.b@c@mail.college.ac.in"))
	assert.Equal(t, "", Domain("nobody"))
	assert.Equal(t, "", Domain("trailing@"))
}
