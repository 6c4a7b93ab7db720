package queue

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"placementmail/internal/logging"
)

// SignalHandler processes one dispatch signal
type SignalHandler func(ctx context.Context, signal DispatchSignal) error

// Consumer consumes dispatch signals from RabbitMQ
type Consumer struct {
	conn      *Connection
	queueName string
	handler   SignalHandler
	logger    *zap.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler SignalHandler, logger *zap.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		logger:    logging.OrNop(logger),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start starts consuming until ctx is done or Stop is called
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("dispatch signal channel closed")
					return
				}
				c.process(ctx, d)
			}
		}
	}()

	c.logger.Info("consumer started", zap.String("queue", c.queueName))
	return nil
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	signal, err := DecodeSignal(d.Body)
	if err != nil {
		// Redelivering a malformed body would fail forever.
		c.logger.Warn("dropping malformed dispatch signal", zap.Error(err))
		d.Nack(false, false)
		return
	}

	if err := c.handler(ctx, signal); err != nil {
		c.logger.Warn("dispatch signal handler failed",
			zap.Int("campaign_id", signal.CampaignID),
			zap.Error(err),
		)
		d.Nack(false, true)
		return
	}

	d.Ack(false)
}

// Stop stops consuming messages and waits for the loop to exit
func (c *Consumer) Stop() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	<-c.doneChan
	c.logger.Info("consumer stopped")
}
