package outbox

import (
	"context"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPPublisher struct {
	ch       Channel
	exchange string
}

func NewAMQPPublisher(ch Channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	headers := amqp.Table{"event_type": event.Type}
	for k, v := range event.Headers {
		headers[k] = v
	}
	if event.Traceparent != "" {
		headers["traceparent"] = event.Traceparent
	}

	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.AggregateID,
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Headers:      headers,
		Body:         event.Payload,
	})
}

// RoutingKey is "<aggregate_type>.<event_type>" in lower case, e.g.
// "sale.salecompleted".
func RoutingKey(event Event) string {
	return strings.ToLower(event.AggregateType + "." + event.Type)
}

// DialAMQP opens a connection and channel and declares exchange as a durable
// topic exchange.
func DialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
