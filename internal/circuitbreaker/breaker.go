// Package circuitbreaker stops sending to a recipient mail domain after
// repeated transient failures, giving the receiving servers time to recover.
package circuitbreaker

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type domainState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
	probeAt             time.Time
}

// CircuitBreaker tracks failures per key (a recipient mail domain)
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*domainState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New opens a key's circuit after threshold consecutive failures and keeps
// it open for cooldown before letting a single probe through.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*domainState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Cooldown returns how long an open circuit stays open
func (cb *CircuitBreaker) Cooldown() time.Duration {
	return cb.cooldown
}

// Allow returns ErrCircuitOpen when sends to key should be held back
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return nil
	}

	now := cb.now()
	switch s.state {
	case stateOpen:
		if now.Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			s.probeAt = now
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// A probe that never reported back must not block the key forever.
		if now.Sub(s.probeAt) >= cb.cooldown {
			s.probeAt = now
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes the circuit for key
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if _, ok := cb.states[key]; ok {
		delete(cb.states, key)
	}
}

// RecordFailure counts a failure for key, opening the circuit at threshold
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		s = &domainState{}
		cb.states[key] = s
	}

	s.consecutiveFailures++
	if s.state == stateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.now()
	}
}

// Domain returns the lower-cased domain part of an email address
func Domain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
