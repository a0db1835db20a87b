// Package bus owns the broker connection (C1): an AMQP transport whose
// initial dial retries with backoff (it does not reconnect after a later
// loss), plus an in-memory fake broker used by tests that exercise
// internal/rpc and internal/consumer without a live server. It also
// provides an in-process pub/sub primitive (bus.go) the gateway uses to
// push viewer lifecycle events to its status stream between ticks.
package bus

import (
	"context"
	"time"
)

// Delivery is a single message received from the broker.
type Delivery struct {
	Body          []byte
	ReplyTo       string
	CorrelationID string
	RoutingKey    string
	Exchange      string

	// ack/nack are set by the transport implementation; handlers must call
	// exactly one of Ack or Nack.
	ack  func() error
	nack func(requeue bool) error
}

// Ack acknowledges successful processing of the delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the delivery. requeue=false for poison messages per the
// no-redelivery-loop invariant; requeue=true only when the broker
// connection itself is being torn down mid-handling.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// WithAckNack returns a copy of d with its ack/nack callbacks set. Used by
// Transport implementations outside this package (e.g. fakebus) that
// cannot set the unexported fields directly.
func (d Delivery) WithAckNack(ack func() error, nack func(requeue bool) error) Delivery {
	d.ack = ack
	d.nack = nack
	return d
}

// PublishOptions carries the AMQP message properties spec §6.1 requires.
type PublishOptions struct {
	ReplyTo       string
	CorrelationID string
	AppID         string
	MessageID     string
	Persistent    bool
}

// QueueSpec declares a queue with the durability flags spec §6.2 requires
// per exchange.
type QueueSpec struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// Transport is the broker-facing port used by internal/rpc (producer side)
// and internal/consumer (worker side). A single Transport instance owns
// one underlying connection/channel pair and is not safe for concurrent
// Consume calls on the same queue from multiple goroutines — callers run
// one Consume loop per queue, matching the spec's one-consumer-per-channel
// concurrency model.
type Transport interface {
	// DeclareFanoutExchange declares a durable fanout exchange and binds a
	// queue matching spec to it, returning the queue name (server-generated
	// when spec.Name is empty).
	DeclareFanoutExchange(ctx context.Context, exchange string, spec QueueSpec) (queueName string, err error)

	// DeclareDirectExchange declares a durable direct exchange and binds
	// queueName to it under each of routingKeys.
	DeclareDirectExchange(ctx context.Context, exchange, queueName string, routingKeys []string) error

	// DeclareQueue declares a queue without binding it to any exchange
	// (used for producer reply queues, published to via the default
	// exchange).
	DeclareQueue(ctx context.Context, spec QueueSpec) (queueName string, err error)

	// Publish sends body to exchange/routingKey. An empty exchange
	// publishes to the default exchange, routed by queue name.
	Publish(ctx context.Context, exchange, routingKey string, body []byte, opts PublishOptions) error

	// Consume starts delivering messages from queueName with the given
	// prefetch count. The returned channel is closed when ctx is
	// canceled or the underlying connection is lost.
	Consume(ctx context.Context, queueName string, prefetch int) (<-chan Delivery, error)

	// Close releases the underlying connection.
	Close() error
}

// Config holds the broker connection parameters (spec §6.3).
type Config struct {
	Host              string
	Port              int
	VHost             string
	User              string
	Pass              string
	HeartbeatSeconds  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	MaxConnectRetries int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              5672,
		VHost:             "/",
		User:              "guest",
		Pass:              "guest",
		HeartbeatSeconds:  600,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     30 * time.Second,
		MaxConnectRetries: 0, // 0 = retry forever
	}
}

// BackoffSequence yields the reconnect delay for the given attempt (0-based),
// doubling from base and capped at max. Used by the AMQP transport's
// connect retry loop.
func BackoffSequence(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Sleep blocks for d or until ctx is canceled, whichever comes first.
// Returns ctx.Err() if canceled.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
