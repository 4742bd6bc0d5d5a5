package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kanggyeonggu/identity-service/internal/logger"
)

// Publisher sends identity events to the identity.events queue. Each publish
// opens its own connection; event volume is one message per login.
type Publisher struct {
	URL         string
	DialTimeout time.Duration
	Log         *slog.Logger
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *slog.Logger) *Publisher {
	return &Publisher{URL: url, DialTimeout: 2 * time.Second, Log: logger.OrDiscard(log)}
}

// Publish marshals ev and publishes it as a persistent message. Errors are
// logged and returned so the caller can ignore them.
func (p *Publisher) Publish(ctx context.Context, ev IdentityEvent) error {
	log := logger.OrDiscard(p.Log)
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		log.WarnContext(ctx, "rabbitmq dial failed", "error", err)
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.WarnContext(ctx, "rabbitmq channel open failed", "error", err)
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareQueue(ch); err != nil {
		log.WarnContext(ctx, "rabbitmq queue declare failed", "error", err)
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", IdentityEventsQueue, false, false, pub); err != nil {
		log.WarnContext(ctx, "rabbitmq publish failed", "type", ev.Type, "error", err)
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// declareQueue is idempotent; durable so events survive broker restarts.
func declareQueue(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(IdentityEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}
