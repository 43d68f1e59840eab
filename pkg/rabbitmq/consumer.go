/**
 * @description
 * Reusable RabbitMQ consumer. It declares a topic exchange, a durable queue and
 * the binding between them, then hands every delivery to a handler.
 *
 * @notes
 * - Deliveries are acknowledged manually: a handler returning true acks the
 *   message, false nacks it with requeue once, then drops it.
 * - Consume blocks until the context is cancelled or the channel closes.
 */
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer holds the connection and channel for RabbitMQ.
type Consumer struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	logger *slog.Logger
}

// NewConsumer creates and returns a new RabbitMQ consumer.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	conn, ch, err := connect(amqpURL, "referral-service-consumer")
	if err != nil {
		return nil, err
	}

	// One unacknowledged delivery at a time keeps handlers sequential.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, logger: logger}, nil
}

// Handler processes one delivery body. Returning false asks for a redelivery.
type Handler func(ctx context.Context, body []byte) bool

// bind declares the durable topology a consumer needs and returns the queue name.
func (c *Consumer) bind(exchange, queueName, routingKey string) (string, error) {
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s to %s: %w", q.Name, routingKey, err)
	}
	return q.Name, nil
}

// Consume delivers messages from queueName, bound to exchange with routingKey,
// to handler until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, exchange, queueName, routingKey string, handler Handler) error {
	queue, err := c.bind(exchange, queueName, routingKey)
	if err != nil {
		return err
	}

	deliveries, err := c.ch.Consume(queue, queue+"-consumer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.handle(ctx, queue, d, handler)
		}
	}
}

// handle settles one delivery. A message that already failed once is dropped
// instead of requeued so a poison message cannot loop forever.
func (c *Consumer) handle(ctx context.Context, queue string, d amqp091.Delivery, handler Handler) {
	logger := c.logger.With("queue", queue, "routing_key", d.RoutingKey, "message_id", d.MessageId)
	logger.Debug("received message")

	if handler(ctx, d.Body) {
		_ = d.Ack(false)
		return
	}
	if d.Redelivered {
		logger.Error("handler failed on redelivered message, dropping")
		_ = d.Nack(false, false)
		return
	}
	logger.Warn("handler failed to process message, re-queuing")
	_ = d.Nack(false, true)
}

// Close closes the RabbitMQ channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
