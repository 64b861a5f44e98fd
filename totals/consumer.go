package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/broker"
	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/metrics"
)

const consumerQueue = "totals.queue"

// Consumer invalidates the hot cache when a payment is captured.
type Consumer struct {
	service TotalsService
	channel *amqp.Channel
	metrics *metrics.ConsumerMetrics
	logger  *zap.Logger
}

func NewConsumer(service TotalsService, channel *amqp.Channel, m *metrics.ConsumerMetrics, logger *zap.Logger) *Consumer {
	return &Consumer{service: service, channel: channel, metrics: m, logger: logger}
}

// capturedPayload is the slice of the payment payload the consumer
// needs.
type capturedPayload struct {
	DonationID uuid.UUID `json:"donation_id"`
}

// Listen binds the queue and processes deliveries until the channel
// closes. Malformed messages go to the DLQ; transient failures retry
// with backoff before dead-lettering.
func (c *Consumer) Listen(ctx context.Context) {
	routingKey := events.RoutingKey("payment",
		events.StatusEvent(events.PaymentStatusEventKind, "CAPTURED"))

	q, err := broker.DeclareConsumerQueue(c.channel, consumerQueue, events.PaymentsExchange, routingKey)
	if err != nil {
		c.logger.Error("failed to declare consumer queue", zap.Error(err))
		return
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		c.logger.Error("failed to register consumer", zap.Error(err))
		return
	}

	c.logger.Info("consumer started",
		zap.String("queue", q.Name),
		zap.String("routing_key", routingKey))

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

	var payload capturedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil || payload.DonationID == uuid.Nil {
		c.logger.Error("payload missing donation_id",
			zap.String("event_type", envelope.EventType))
		c.deadLetter(d)
		return
	}

	if err := c.service.InvalidateByDonation(ctx, payload.DonationID); err != nil {
		c.logger.Warn("invalidation failed, retrying",
			zap.Error(err),
			zap.String("donation_id", payload.DonationID.String()))
		c.retry(ctx, d)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", zap.Error(err))
		return
	}
	c.metrics.Handled.WithLabelValues(consumerQueue, "ok").Inc()
}

// deadLetter drops a message the service can never process. The nack
// without requeue routes it through the DLX to totals.queue.dlq.
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
		// The republish itself failed; requeue the original so the
		// broker redelivers it.
		c.logger.Error("retry handling failed", zap.Error(err))
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("failed to nack message", zap.Error(err))
		}
		return
	}
	if requeued {
		// The copy with the bumped retry count is in flight; the
		// original is done.
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
