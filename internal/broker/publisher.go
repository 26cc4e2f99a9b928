package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"garagehub/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards bus events to a topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	logger   zerolog.Logger
}

// Dial connects to RabbitMQ and declares the durable topic exchange.
func Dial(url, exchange string, logger *zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := NewPublisher(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewPublisher(ch Channel, exchange string, logger *zerolog.Logger) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("amqp channel is nil")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "broker").Logger()
	}
	return &Publisher{ch: ch, exchange: exchange, logger: base}, nil
}

// RoutingKey maps an event type onto the exchange routing key.
func RoutingKey(eventType string) string {
	return "booking." + eventType
}

type message struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publish sends one event as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	body, err := json.Marshal(message{
		ID:        event.ID,
		Type:      event.Type,
		CreatedAt: event.CreatedAt,
		Payload:   json.RawMessage(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(event.ID, 10),
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Body:         body,
	})
}

// Attach subscribes the publisher to every event on the bus. Publish failures
// are logged, not returned, so a broker outage never fails a booking update.
func (p *Publisher) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(event *events.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Error().Err(err).Str("event", event.Type).Msg("broker publish failed")
		}
		return nil
	})
}

func (p *Publisher) Close() error {
	var errs []error
	if err := p.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
