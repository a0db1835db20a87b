package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport is the production Transport backed by RabbitMQ. It owns a
// single connection and channel. The initial dial retries with exponential
// backoff; a connection lost after that is not re-established
// automatically, and open Consume channels are closed when it drops.
type AMQPTransport struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPTransport dials the broker, retrying per cfg.MaxConnectRetries
// (0 means retry forever) with exponential backoff.
func NewAMQPTransport(ctx context.Context, cfg Config, logger *slog.Logger) (*AMQPTransport, error) {
	t := &AMQPTransport{cfg: cfg, logger: logger}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) amqpURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", t.cfg.User, t.cfg.Pass, t.cfg.Host, t.cfg.Port, t.cfg.VHost)
}

func (t *AMQPTransport) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; t.cfg.MaxConnectRetries == 0 || attempt < t.cfg.MaxConnectRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.DialConfig(t.amqpURL(), amqp.Config{
			Heartbeat: time.Duration(t.cfg.HeartbeatSeconds) * time.Second,
		})
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				t.mu.Lock()
				t.conn = conn
				t.ch = ch
				t.mu.Unlock()
				return nil
			}
			conn.Close()
			err = chErr
		}
		lastErr = err
		delay := BackoffSequence(attempt, t.cfg.RetryBaseDelay, t.cfg.RetryMaxDelay)
		if t.logger != nil {
			t.logger.Warn("broker connect failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		}
		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("broker connect failed after %d attempts: %w", t.cfg.MaxConnectRetries, lastErr)
}

// reconnect tears down the stale channel/connection and redials. Callers
// that held declarations (exchanges, queues, bindings, consumers) must
// re-declare after a successful reconnect since those are channel/
// connection scoped.
func (t *AMQPTransport) reconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.ch != nil {
		t.ch.Close()
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()
	return t.connect(ctx)
}

func (t *AMQPTransport) channel() *amqp.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

func (t *AMQPTransport) DeclareFanoutExchange(ctx context.Context, exchange string, spec QueueSpec) (string, error) {
	ch := t.channel()
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare fanout exchange %s: %w", exchange, err)
	}
	q, err := ch.QueueDeclare(spec.Name, spec.Durable, spec.AutoDelete, spec.Exclusive, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue for %s: %w", exchange, err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s to %s: %w", q.Name, exchange, err)
	}
	return q.Name, nil
}

func (t *AMQPTransport) DeclareDirectExchange(ctx context.Context, exchange, queueName string, routingKeys []string) error {
	ch := t.channel()
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare direct exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(queueName, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s/%s: %w", queueName, exchange, key, err)
		}
	}
	return nil
}

func (t *AMQPTransport) DeclareQueue(ctx context.Context, spec QueueSpec) (string, error) {
	ch := t.channel()
	q, err := ch.QueueDeclare(spec.Name, spec.Durable, spec.AutoDelete, spec.Exclusive, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", spec.Name, err)
	}
	return q.Name, nil
}

func (t *AMQPTransport) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts PublishOptions) error {
	ch := t.channel()
	deliveryMode := uint8(amqp.Transient)
	if opts.Persistent {
		deliveryMode = amqp.Persistent
	}
	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		ReplyTo:       opts.ReplyTo,
		CorrelationId: opts.CorrelationID,
		DeliveryMode:  deliveryMode,
		AppId:         opts.AppID,
		MessageId:     opts.MessageID,
		Timestamp:     time.Now(),
	})
}

func (t *AMQPTransport) Consume(ctx context.Context, queueName string, prefetch int) (<-chan Delivery, error) {
	ch := t.channel()
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch on %s: %w", queueName, err)
	}
	raw, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				delivery := d
				out <- Delivery{
					Body:          delivery.Body,
					ReplyTo:       delivery.ReplyTo,
					CorrelationID: delivery.CorrelationId,
					RoutingKey:    delivery.RoutingKey,
					Exchange:      delivery.Exchange,
					ack:           func() error { return delivery.Ack(false) },
					nack:          func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
			}
		}
	}()
	return out, nil
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.ch != nil {
		err = t.ch.Close()
	}
	if t.conn != nil {
		if cErr := t.conn.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	return err
}
