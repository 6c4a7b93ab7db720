// Package queue carries dispatch signals over RabbitMQ. Signals only wake
// idle workers early; the jobs themselves live in Postgres, so a lost signal
// delays delivery by at most one poll interval.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DispatchSignal announces that a campaign has jobs ready to claim
type DispatchSignal struct {
	CampaignID int       `json:"campaign_id"`
	Jobs       int       `json:"jobs"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Encode serializes the signal as JSON
func (s DispatchSignal) Encode() ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch signal: %w", err)
	}
	return body, nil
}

// DecodeSignal parses and validates a signal body
func DecodeSignal(body []byte) (DispatchSignal, error) {
	var s DispatchSignal
	if err := json.Unmarshal(body, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal dispatch signal: %w", err)
	}
	if s.CampaignID <= 0 {
		return s, errors.New("dispatch signal has no campaign id")
	}
	return s, nil
}
