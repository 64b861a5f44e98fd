package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/careforall/donation-platform/common/events"
)

// MaxRetryCount bounds consumer-side redelivery before a message is
// handed to the dead-letter exchange.
const MaxRetryCount = 3

// DLX is the shared dead-letter exchange. Every consumer queue declares
// x-dead-letter-exchange=dlx; nacked messages are routed to the
// queue-specific "<queue>.dlq" bound by the original routing key.
const DLX = "dlx"

// PublishTimeout bounds a single broker publish so it can never stall a
// caller past its deadline.
const PublishTimeout = 2 * time.Second

var topicExchanges = []string{
	events.DonationsExchange,
	events.PaymentsExchange,
	events.CampaignsExchange,
	events.BankExchange,
}

// Connect opens a connection and channel to RabbitMQ and declares the
// topic exchanges plus the dead-letter infrastructure. The returned
// close function shuts the channel before the connection.
func Connect(user, pass, host, port string) (*amqp.Channel, func() error, error) {
	address := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchanges: %w", err)
	}

	if err := declareDLX(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare DLX: %w", err)
	}

	closeFn := func() error {
		if err := ch.Close(); err != nil {
			return err
		}
		return conn.Close()
	}

	return ch, closeFn, nil
}

// Publish sends a persistent JSON message to a topic exchange and
// propagates the trace context through the AMQP headers.
func Publish(ctx context.Context, ch *amqp.Channel, exchange, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	return ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      InjectAMQPHeaders(ctx),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

// DeclareConsumerQueue declares a durable queue wired to the DLX and
// binds it to the given exchange with one or more routing patterns.
func DeclareConsumerQueue(ch *amqp.Channel, queue, exchange string, routingKeys ...string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange": DLX,
		},
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return amqp.Queue{}, fmt.Errorf("failed to bind %s to %s with %s: %w", queue, exchange, key, err)
		}
	}

	// The DLQ is bound by the queue name so failures stay separable per
	// consumer.
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare DLQ %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queue, DLX, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to bind DLQ %s: %w", dlq, err)
	}

	return q, nil
}

// HandleRetry re-publishes a failed delivery with an incremented
// x-retry-count header and linear backoff. Once MaxRetryCount is
// reached it returns false and the caller should nack without requeue,
// letting the DLX route the message to the queue's DLQ.
func HandleRetry(ctx context.Context, ch *amqp.Channel, d *amqp.Delivery) (requeued bool, err error) {
	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}

	retryCount, ok := d.Headers["x-retry-count"].(int64)
	if !ok {
		retryCount = 0
	}
	retryCount++
	d.Headers["x-retry-count"] = retryCount

	if retryCount >= MaxRetryCount {
		return false, nil
	}

	select {
	case <-time.After(time.Second * time.Duration(retryCount)):
	case <-ctx.Done():
		return false, ctx.Err()
	}

	err = ch.PublishWithContext(
		ctx,
		d.Exchange,
		d.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      d.Headers,
			Body:         d.Body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to republish for retry: %w", err)
	}
	return true, nil
}

func declareExchanges(ch *amqp.Channel) error {
	for _, exchange := range topicExchanges {
		err := ch.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare %s exchange: %w", exchange, err)
		}
	}
	return nil
}

func declareDLX(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		DLX,
		"direct", // routing key = original queue name
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLX exchange: %w", err)
	}
	return nil
}
