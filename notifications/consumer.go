package main

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/broker"
	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/metrics"
)

const consumerQueue = "notifications.queue"

// Consumer turns donation events into outbound notifications.
type Consumer struct {
	service *service
	channel *amqp.Channel
	metrics *metrics.ConsumerMetrics
	logger  *zap.Logger
}

func NewConsumer(svc *service, channel *amqp.Channel, m *metrics.ConsumerMetrics, logger *zap.Logger) *Consumer {
	return &Consumer{service: svc, channel: channel, metrics: m, logger: logger}
}

// Listen consumes created and completed donation events until the
// channel closes.
func (c *Consumer) Listen(ctx context.Context) {
	q, err := broker.DeclareConsumerQueue(c.channel, consumerQueue, events.DonationsExchange,
		events.RoutingKey("donation", events.DonationCreated),
		events.RoutingKey("donation", events.StatusEvent(events.DonationStatusChanged, "COMPLETED")),
	)
	if err != nil {
		c.logger.Error("failed to declare consumer queue", zap.Error(err))
		return
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		c.logger.Error("failed to register consumer", zap.Error(err))
		return
	}

	c.logger.Info("consumer started", zap.String("queue", q.Name))

	for d := range msgs {
		c.handle(ctx, d)
	}
	c.logger.Info("consumer stopped")
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	ctx = broker.ExtractAMQPHeaders(ctx, d.Headers)
	ctx, span := otel.Tracer(consumerQueue).Start(ctx, consumerQueue+" process")
	defer span.End()

	var envelope events.Envelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		c.logger.Error("failed to unmarshal envelope", zap.Error(err))
		c.deadLetter(d)
		return
	}

	var payload DonationPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		c.logger.Error("failed to unmarshal donation payload",
			zap.Error(err), zap.String("event_type", envelope.EventType))
		c.deadLetter(d)
		return
	}

	// The full event type is the dedup key, so a created event and a
	// completed event for the same donation each notify exactly once.
	eventType := envelope.EventType

	_, err := c.service.ProcessDonationEvent(ctx, eventType, payload)
	switch {
	case errors.Is(err, ErrAlreadyNotified):
		// A previous delivery already sent this one.
		c.logger.Info("duplicate delivery, already notified",
			zap.String("donation_id", payload.ID.String()),
			zap.String("event_type", eventType))
		c.ack(d, "duplicate")
	case err != nil:
		c.logger.Warn("notification failed, retrying", zap.Error(err))
		c.retry(ctx, d)
	default:
		c.ack(d, "ok")
	}
}

func (c *Consumer) ack(d amqp.Delivery, outcome string) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", zap.Error(err))
		return
	}
	c.metrics.Handled.WithLabelValues(consumerQueue, outcome).Inc()
}

func (c *Consumer) deadLetter(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		c.logger.Error("failed to nack message", zap.Error(err))
		return
	}
	c.metrics.Handled.WithLabelValues(consumerQueue, "malformed").Inc()
	c.metrics.DeadLettered.WithLabelValues(consumerQueue).Inc()
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery) {
	requeued, err := broker.HandleRetry(ctx, c.channel, &d)
	if err != nil {
		c.logger.Error("retry handling failed", zap.Error(err))
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("failed to nack message", zap.Error(err))
		}
		return
	}
	if requeued {
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack message", zap.Error(err))
		}
		c.metrics.Handled.WithLabelValues(consumerQueue, "retried").Inc()
		return
	}
	if err := d.Nack(false, false); err != nil {
		c.logger.Error("failed to nack message", zap.Error(err))
		return
	}
	c.metrics.Handled.WithLabelValues(consumerQueue, "failed").Inc()
	c.metrics.DeadLettered.WithLabelValues(consumerQueue).Inc()
}
