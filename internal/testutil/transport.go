package testutil

import (
	"context"
	"sync"

	"placementmail/internal/mailer"
)

// ScriptedTransport answers each send from a script keyed by recipient
// address and per-address attempt number (starting at 1).
type ScriptedTransport struct {
	mu       sync.Mutex
	script   func(to string, attempt int) error
	attempts map[string]int
	sent     []mailer.Message

	// Gate, when set, holds every send until a value arrives or ctx ends.
	// Started receives the recipient before the send waits on Gate.
	Gate    chan struct{}
	Started chan string
}

// NewScriptedTransport creates a transport; a nil script always succeeds
func NewScriptedTransport(script func(to string, attempt int) error) *ScriptedTransport {
	return &ScriptedTransport{script: script, attempts: make(map[string]int)}
}

func (t *ScriptedTransport) Send(ctx context.Context, msg mailer.Message) error {
	if t.Started != nil {
		t.Started <- msg.To
	}
	if t.Gate != nil {
		select {
		case <-t.Gate:
		case <-ctx.Done():
			return mailer.TransientError(ctx.Err())
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[msg.To]++
	var err error
	if t.script != nil {
		err = t.script(msg.To, t.attempts[msg.To])
	}
	if err == nil {
		t.sent = append(t.sent, msg)
	}
	return err
}

// Attempts returns how many sends were made to an address
func (t *ScriptedTransport) Attempts(to string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[to]
}

// Sent returns the successfully delivered messages
func (t *ScriptedTransport) Sent() []mailer.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]mailer.Message(nil), t.sent...)
}
