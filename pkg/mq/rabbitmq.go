// Package mq publishes housekeeping events to a RabbitMQ topic exchange and
// lets other processes subscribe to them.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"job-queue/pkg/events"
)

// Client implements events.Notifier. Each event goes to the exchange with
// its name as the routing key, so an "error" binding picks out failures.
type Client struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// ErrorsQueue returns the durable queue that collects error events for the
// exchange, so failures are kept even when nobody is watching.
func ErrorsQueue(exchange string) string { return exchange + ".errors" }

func New(url, exchange string) (*Client, error) {
	if url == "" {
		return nil, errors.New("mq: url is required")
	}
	if exchange == "" {
		return nil, errors.New("mq: exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Client{conn: conn, ch: ch, exchange: exchange}, nil
}

// SetupTopology declares the events exchange and the errors queue. Idempotent.
func (c *Client) SetupTopology() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	queue := ErrorsQueue(c.exchange)
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := c.ch.QueueBind(queue, string(events.Error), c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", queue, err)
	}
	return nil
}

func (c *Client) Notify(ctx context.Context, e events.Event) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(ctx,
		c.exchange,    // exchange
		routingKey(e), // routing key
		false,         // mandatory
		false,         // immediate
		msg)
}

// Subscribe binds a private queue to the exchange and streams decoded
// events until ctx is done or the connection drops. bindingKey uses topic
// syntax; "#" receives everything.
func (c *Client) Subscribe(ctx context.Context, bindingKey string, logger *slog.Logger) (<-chan events.Event, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, bindingKey, c.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind subscriber queue: %w", err)
	}
	deliveries, err := ch.Consume(
		q.Name,
		"",   // consumer
		true, // auto-ack; events are informational
		true, // exclusive
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				e, err := decode(d.Body)
				if err != nil {
					logger.Warn("dropping malformed event", "routing_key", d.RoutingKey, "error", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch.Close()
	c.conn.Close()
}

func routingKey(e events.Event) string { return string(e.Name) }

func encode(e events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s event: %w", e.Name, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(e.Name),
		Timestamp:    e.At,
		Body:         body,
	}, nil
}

func decode(body []byte) (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return events.Event{}, err
	}
	if e.Name == "" {
		return events.Event{}, errors.New("event has no name")
	}
	return e, nil
}
