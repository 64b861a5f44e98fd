package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPublisher adapts an AMQP channel to the publisher interfaces
// the outbox poller and services consume.
type ChannelPublisher struct {
	ch *amqp.Channel
}

func NewChannelPublisher(ch *amqp.Channel) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return Publish(ctx, p.ch, exchange, routingKey, body)
}
