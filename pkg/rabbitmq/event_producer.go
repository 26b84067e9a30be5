/**
 * @description
 * RabbitMQ producer for domain events (bank linked, transfer initiated,
 * reconciliation required). Events go to a durable topic exchange.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: AMQP 0-9-1 client.
 * - go.uber.org/zap: Publish logging.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type connection interface {
	Channel() (publishChannel, error)
	IsClosed() bool
	Close() error
}

type publishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (publishChannel, error) {
	return c.Connection.Channel()
}

type dialFunc func(addr string) (connection, error)

func dialAMQP(addr string) (connection, error) {
	conn, err := amqp.DialConfig(addr, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// EventProducer publishes events to RabbitMQ exchanges. A closed connection
// or channel is redialed on the next publish.
type EventProducer struct {
	addr     string
	dial     dialFunc
	conn     connection
	channel  publishChannel
	mu       sync.Mutex
	declared map[string]bool
	logger   *zap.Logger
}

// NewEventProducer creates a new RabbitMQ producer.
func NewEventProducer(amqpURL string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeProducerURL(amqpURL)
	if err != nil {
		return nil, err
	}
	return newEventProducer(cleanURL, dialAMQP, logger)
}

func newEventProducer(addr string, dial dialFunc, logger *zap.Logger) (*EventProducer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &EventProducer{
		addr:     addr,
		dial:     dial,
		declared: make(map[string]bool),
		logger:   logger.With(zap.String("component", "event_producer")),
	}
	if err := p.ensureChannel(); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureChannel must be called with mu held.
func (p *EventProducer) ensureChannel() error {
	if p.conn == nil || p.conn.IsClosed() {
		if p.conn != nil {
			p.logger.Warn("rabbitmq connection closed; redialing")
		}
		conn, err := p.dial(p.addr)
		if err != nil {
			return fmt.Errorf("failed to dial rabbitmq: %w", err)
		}
		p.conn = conn
		p.channel = nil
	}
	if p.channel == nil || p.channel.IsClosed() {
		channel, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
		p.channel = channel
		p.declared = make(map[string]bool)
	}
	return nil
}

// Publish sends a JSON message to an exchange with the specified routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}

	if err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", routingKey, err)
	}

	p.logger.Debug("published event", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	return nil
}

// Close releases channel and connection resources.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeProducerURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
