// Package fakebus is an in-memory Transport used by tests that exercise
// internal/rpc and internal/consumer without a live broker. It reproduces
// AMQP's fanout/direct exchange and default-exchange-by-queue-name
// semantics closely enough for those packages to be unaware they're not
// talking to a real broker.
package fakebus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/facehive/facehive/internal/bus"
)

type queue struct {
	name       string
	deliveries chan bus.Delivery
}

// Broker is the shared in-memory exchange/queue registry. Multiple
// *Transport handles created via NewTransport(broker) simulate multiple
// producer/worker connections to the same logical broker.
type Broker struct {
	mu sync.Mutex

	fanoutBindings map[string][]*queue // exchange -> bound queues
	directBindings map[string]map[string][]*queue // exchange -> routingKey -> bound queues
	queues         map[string]*queue

	nextQueueID   atomic.Int64
	droppedEvents atomic.Int64
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		fanoutBindings: make(map[string][]*queue),
		directBindings: make(map[string]map[string][]*queue),
		queues:         make(map[string]*queue),
	}
}

func (b *Broker) declareQueue(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("amq.gen-%d", b.nextQueueID.Add(1))
	}
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := &queue{name: name, deliveries: make(chan bus.Delivery, 1000)}
	b.queues[name] = q
	return q
}

func (b *Broker) bindFanout(exchange, queueName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queueName]
	if q == nil {
		return
	}
	b.fanoutBindings[exchange] = append(b.fanoutBindings[exchange], q)
}

func (b *Broker) bindDirect(exchange, queueName string, routingKeys []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queueName]
	if q == nil {
		return
	}
	if b.directBindings[exchange] == nil {
		b.directBindings[exchange] = make(map[string][]*queue)
	}
	for _, key := range routingKeys {
		b.directBindings[exchange][key] = append(b.directBindings[exchange][key], q)
	}
}

func (b *Broker) publish(exchange, routingKey string, d bus.Delivery) {
	b.mu.Lock()
	var targets []*queue
	switch {
	case exchange == "":
		// Default exchange: routingKey addresses a queue directly.
		if q, ok := b.queues[routingKey]; ok {
			targets = append(targets, q)
		}
	case b.isFanoutExchange(exchange):
		targets = append(targets, b.fanoutBindings[exchange]...)
	default:
		targets = append(targets, b.directBindings[exchange][routingKey]...)
	}
	b.mu.Unlock()

	for _, q := range targets {
		select {
		case q.deliveries <- d:
		default:
			b.droppedEvents.Add(1)
		}
	}
}

func (b *Broker) isFanoutExchange(exchange string) bool {
	_, ok := b.fanoutBindings[exchange]
	return ok
}

// DroppedCount reports deliveries dropped because a queue's buffer was
// full, mirroring the teacher bus's drop-counter diagnostic.
func (b *Broker) DroppedCount() int64 {
	return b.droppedEvents.Load()
}

// Transport implements bus.Transport against a shared in-memory Broker.
type Transport struct {
	broker *Broker
}

// NewTransport creates a Transport handle onto broker.
func NewTransport(broker *Broker) *Transport {
	return &Transport{broker: broker}
}

func (t *Transport) DeclareFanoutExchange(ctx context.Context, exchange string, spec bus.QueueSpec) (string, error) {
	q := t.broker.declareQueue(spec.Name)
	t.broker.mu.Lock()
	if _, ok := t.broker.fanoutBindings[exchange]; !ok {
		t.broker.fanoutBindings[exchange] = nil
	}
	t.broker.mu.Unlock()
	t.broker.bindFanout(exchange, q.name)
	return q.name, nil
}

func (t *Transport) DeclareDirectExchange(ctx context.Context, exchange, queueName string, routingKeys []string) error {
	t.broker.declareQueue(queueName)
	t.broker.bindDirect(exchange, queueName, routingKeys)
	return nil
}

func (t *Transport) DeclareQueue(ctx context.Context, spec bus.QueueSpec) (string, error) {
	q := t.broker.declareQueue(spec.Name)
	return q.name, nil
}

func (t *Transport) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts bus.PublishOptions) error {
	d := bus.Delivery{
		Body:          body,
		ReplyTo:       opts.ReplyTo,
		CorrelationID: opts.CorrelationID,
		RoutingKey:    routingKey,
		Exchange:      exchange,
	}
	t.broker.publish(exchange, routingKey, d)
	return nil
}

func (t *Transport) Consume(ctx context.Context, queueName string, prefetch int) (<-chan bus.Delivery, error) {
	q := t.broker.declareQueue(queueName)
	out := make(chan bus.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-q.deliveries:
				if !ok {
					return
				}
				d = d.WithAckNack(func() error { return nil }, func(requeue bool) error { return nil })
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) Close() error { return nil }
