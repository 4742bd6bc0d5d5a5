package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kanggyeonggu/identity-service/internal/logger"
)

const auditFileName = "identity.log"

// AuditConsumer appends every identity event to <Dir>/identity.log.
type AuditConsumer struct {
	URL string
	Dir string
	Log *slog.Logger
}

// Run consumes identity.events until ctx is cancelled, reconnecting with
// exponential backoff (capped at 30s) whenever the broker goes away.
// Messages that cannot be handled are rejected without requeue.
func (c *AuditConsumer) Run(ctx context.Context) error {
	log := logger.OrDiscard(c.Log)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Warn("audit consumer dial failed", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("audit consumer loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	log := logger.OrDiscard(c.Log)
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("audit consumer set QoS failed", "error", err)
	}
	if err := declareQueue(ch); err != nil {
		return err
	}
	msgs, err := ch.ConsumeWithContext(ctx, IdentityEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.handle(d.Body); err != nil {
			log.Warn("audit consumer handle message failed", "error", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c *AuditConsumer) handle(body []byte) error {
	var ev IdentityEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.IdentityID == 0 {
		return errors.New("event without type or identity id")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, auditFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatAuditLine(ev)); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}
	return nil
}

// FormatAuditLine renders one event as a single human-readable line.
func FormatAuditLine(ev IdentityEvent) string {
	return fmt.Sprintf("[%s] %s | identity_id=%d | provider=%s | display_name=%q | created=%t\n",
		ev.OccurredAt, ev.Type, ev.IdentityID, ev.Provider, ev.DisplayName, ev.Created)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
