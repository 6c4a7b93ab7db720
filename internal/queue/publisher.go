package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// signalTTL drops signals nobody consumed; workers poll anyway.
const signalTTL = time.Minute

// Publisher publishes dispatch signals to RabbitMQ
type Publisher struct {
	conn      *Connection
	queueName string
	now       func() time.Time
}

// NewPublisher creates a new publisher instance
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, queueName: queueName, now: time.Now}, nil
}

// NotifyQueued publishes a signal that campaignID has jobs ready
func (p *Publisher) NotifyQueued(ctx context.Context, campaignID, jobs int) error {
	body, err := DispatchSignal{
		CampaignID: campaignID,
		Jobs:       jobs,
		QueuedAt:   p.now().UTC(),
	}.Encode()
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Expiration:   strconv.FormatInt(signalTTL.Milliseconds(), 10),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch signal: %w", err)
	}

	return nil
}
