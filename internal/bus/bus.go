// Package bus is a thin publish/subscribe layer over an AMQP topic exchange.
// Publishing is at-most-once: a publish gets up to three attempts with a
// reconnect between attempts, then the message is dropped. Subscribers get
// an exclusive server-named queue bound to one or more routing-key patterns
// and a single-threaded callback per delivery with no explicit ack.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange names used by the zlogger pipeline.
const (
	Exchange        = "zlogger"
	RawChatExchange = "zlogger.raw_chat"
)

// publishAttempts bounds the publish retry loop. Behavioral constant —
// fault-injection tests depend on it.
const publishAttempts = 3

// ErrDropped is returned when a publish exhausted its attempts and the
// message was discarded.
var ErrDropped = errors.New("bus: message dropped after retries")

// Publisher is the producing half of the bus, implemented by *Conn and by
// test fakes.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Handler consumes one delivery. Deliveries are dispatched one at a time,
// in arrival order.
type Handler func(routingKey string, body []byte)

// channel is the subset of amqp091.Channel the bus uses, extracted so tests
// can inject failures.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// dialFunc opens a fresh channel. The production implementation dials the
// broker URL; tests substitute a fake.
type dialFunc func() (channel, error)

// Conn owns a single AMQP channel. It belongs to one loop and is not safe
// for concurrent use; each daemon opens its own.
type Conn struct {
	dial dialFunc
	ch   channel

	declared map[string]bool
}

// Dial connects to the broker at url and opens a channel.
func Dial(url string) (*Conn, error) {
	dial := func() (channel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("amqp channel: %w", err)
		}
		return ch, nil
	}
	return newConn(dial)
}

func newConn(dial dialFunc) (*Conn, error) {
	ch, err := dial()
	if err != nil {
		return nil, err
	}
	return &Conn{dial: dial, ch: ch, declared: make(map[string]bool)}, nil
}

// reconnect drops the current channel and dials a new one. Exchange
// declarations are redone lazily.
func (c *Conn) reconnect() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	ch, err := c.dial()
	if err != nil {
		c.ch = nil
		return err
	}
	c.ch = ch
	c.declared = make(map[string]bool)
	return nil
}

// ensureExchange declares the topic exchange once per channel lifetime.
func (c *Conn) ensureExchange(name string) error {
	if c.declared[name] {
		return nil
	}
	if err := c.ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	c.declared[name] = true
	return nil
}

// Publish sends body to exchange under routingKey, retrying with a
// reconnect between attempts. On exhaustion the message is dropped and
// ErrDropped returned; callers log and continue — publish failures never
// interrupt persistence.
func (c *Conn) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if c.ch == nil {
			if err := c.reconnect(); err != nil {
				slog.Warn("bus: reconnect failed", "exchange", exchange, "error", err)
				continue
			}
		}
		err := c.ensureExchange(exchange)
		if err == nil {
			err = c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
			})
			if err == nil {
				return nil
			}
		}

		slog.Warn("bus: publish failed, reconnecting",
			"exchange", exchange, "routing_key", routingKey, "attempt", attempt+1, "error", err)
		if err := c.reconnect(); err != nil {
			slog.Warn("bus: reconnect failed", "exchange", exchange, "error", err)
		}
	}
	return fmt.Errorf("%w: %s %s", ErrDropped, exchange, routingKey)
}

// Subscribe binds an exclusive server-named queue to exchange with the
// given routing-key patterns (AMQP wildcards allowed) and dispatches
// deliveries to handler until ctx is cancelled or the delivery stream
// closes.
func (c *Conn) Subscribe(ctx context.Context, exchange string, patterns []string, handler Handler) error {
	if c.ch == nil {
		if err := c.reconnect(); err != nil {
			return err
		}
	}
	if err := c.ensureExchange(exchange); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, p := range patterns {
		if err := c.ch.QueueBind(q.Name, p, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", p, exchange, err)
		}
	}

	consumer := "zlogger-" + uuid.NewString()[:8]
	deliveries, err := c.ch.Consume(q.Name, consumer, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	slog.Info("bus: subscribed", "exchange", exchange, "queue", q.Name, "patterns", patterns)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("bus: delivery stream closed for %s", exchange)
			}
			handler(d.RoutingKey, d.Body)
		}
	}
}

// Close shuts the channel down.
func (c *Conn) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
}
