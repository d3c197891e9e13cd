// ABOUTME: RabbitMQ publisher for advisor alerts with a no-op fallback.
// ABOUTME: Alerts are JSON envelopes published to a durable topic exchange.

package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Alert kinds, used as routing key suffixes.
const (
	KindHandoff = "handoff" // user asked for a human advisor
	KindLead    = "lead"    // completed checkout waiting for follow-up
)

// Alert is one advisor notification.
type Alert struct {
	RecipientID string    `json:"recipient_id"`
	Name        string    `json:"name,omitempty"`
	Kind        string    `json:"kind"`
	Summary     string    `json:"summary"`
	Time        time.Time `json:"time"`
}

// envelope is the wire shape consumed by the back office.
type envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Producer string `json:"producer"`
	Data     Alert  `json:"data"`
}

// Publisher delivers advisor alerts. Publishing is best-effort: callers
// log failures and continue the conversation.
type Publisher interface {
	PublishAlert(ctx context.Context, alert Alert) error
	Close() error
}

// rmqPublisher publishes to a durable topic exchange.
type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// New connects to the broker and declares the exchange.
func New(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}
	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
		log:      logger.With("component", "alerts"),
	}, nil
}

func (p *rmqPublisher) PublishAlert(ctx context.Context, alert Alert) error {
	if alert.Time.IsZero() {
		alert.Time = time.Now()
	}
	env := envelope{
		ID:       uuid.NewString(),
		Type:     routingKey(alert.Kind),
		Producer: "agrobot",
		Data:     alert,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, env.Type, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.ID,
			Timestamp:    alert.Time,
			Body:         body,
		})
	if err == nil {
		p.log.Info("alert published", "key", env.Type, "recipient", alert.RecipientID)
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// routingKey maps an alert kind to its topic routing key.
func routingKey(kind string) string {
	return "advisor." + kind + ".v1"
}

// fallbackPublisher drops alerts with a log line. Used when no broker is
// configured so the conversation flow never depends on one.
type fallbackPublisher struct {
	log *slog.Logger
}

// NewFallback returns the no-op publisher.
func NewFallback(logger *slog.Logger) Publisher {
	return &fallbackPublisher{log: logger.With("component", "alerts")}
}

func (p *fallbackPublisher) PublishAlert(_ context.Context, alert Alert) error {
	p.log.Warn("alert broker not configured, alert skipped",
		"kind", alert.Kind, "recipient", alert.RecipientID)
	return nil
}

func (p *fallbackPublisher) Close() error { return nil }
