package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pfrederiksen/bake-events/internal/event"
)

const (
	// EventType is the event-type header on every published message
	EventType    = "EventDiscovered"
	EventVersion = "1.0.0"

	publishTimeout = 10 * time.Second
)

// channel is the part of *amqp.Channel the notifier uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes inserted events to a RabbitMQ exchange
type AMQPNotifier struct {
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
	now        func() time.Time
}

// DialAMQP connects to url and declares a durable topic exchange
func DialAMQP(url, exchange, routingKey string) (*AMQPNotifier, error) {
	if url == "" {
		return nil, errors.New("notifier: AMQP_URL is not set")
	}
	if routingKey == "" {
		return nil, errors.New("notifier: routing key cannot be empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notifier: failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notifier: failed to open a channel: %w", err)
	}
	if exchange != "" {
		err = ch.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("notifier: failed to declare exchange %q: %w", exchange, err)
		}
	}

	n := newAMQPNotifier(ch, exchange, routingKey)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch channel, exchange, routingKey string) *AMQPNotifier {
	return &AMQPNotifier{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		now:        time.Now,
	}
}

// Notify publishes one persistent JSON message per event. It stops at the
// first failure.
func (n *AMQPNotifier) Notify(ctx context.Context, events []event.Stored) error {
	for _, evt := range events {
		body, err := json.Marshal(NewMessage(evt))
		if err != nil {
			return fmt.Errorf("notifier: failed to marshal event %d: %w", evt.ID, err)
		}

		msg := amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    n.now(),
			Headers: amqp.Table{
				"event-type":    EventType,
				"event-version": EventVersion,
			},
		}

		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = n.ch.PublishWithContext(pctx, n.exchange, n.routingKey, false, false, msg)
		cancel()
		if err != nil {
			return fmt.Errorf("notifier: failed to publish event %d: %w", evt.ID, err)
		}
	}
	return nil
}

// Close closes the channel and the connection
func (n *AMQPNotifier) Close() error {
	var errs []error
	if n.ch != nil {
		errs = append(errs, n.ch.Close())
	}
	if n.conn != nil {
		errs = append(errs, n.conn.Close())
	}
	return errors.Join(errs...)
}
