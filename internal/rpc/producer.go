// Package rpc implements the producer side (C2) of the request/reply
// fabric: one exclusive reply queue per producer, a correlation-keyed
// pending table, and a background consumer that routes replies into
// single-shot reply slots. Modeled on the event-driven completion waiting
// in the teacher's coordinator.Waiter, adapted from bus-topic subscription
// plus store polling into direct correlation-ID-addressed channels, since
// the producer here has no store to poll — the reply itself is the only
// signal.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/bus"
	"github.com/facehive/facehive/internal/wire"
	"github.com/google/uuid"
)

// Config controls producer behavior.
type Config struct {
	DefaultTimeout time.Duration
	ProducerID     string
}

// DefaultConfig returns spec defaults (30s RPC timeout).
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		ProducerID:     fmt.Sprintf("producer-%d", os.Getpid()),
	}
}

// slot buffers replies for one in-flight correlation ID. fanout slots stay
// registered until the caller explicitly removes them (via cleanup), since
// a fan-out mutation draws one reply per worker rather than exactly one.
type slot struct {
	ch     chan wire.Reply
	fanout bool
}

// Producer owns one exclusive reply queue and a background consumer that
// demultiplexes replies by correlation_id into per-call slots.
type Producer struct {
	transport bus.Transport
	cfg       Config
	logger    *slog.Logger

	replyQueue string

	mu      sync.Mutex
	pending map[string]*slot

	cancel context.CancelFunc
	done   chan struct{}
}

// New declares the producer's exclusive reply queue and starts the
// background reply-consumer loop.
func New(ctx context.Context, transport bus.Transport, cfg Config, logger *slog.Logger) (*Producer, error) {
	queueName, err := transport.DeclareQueue(ctx, bus.QueueSpec{Exclusive: true, AutoDelete: true})
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	deliveries, err := transport.Consume(consumeCtx, queueName, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	p := &Producer{
		transport:  transport,
		cfg:        cfg,
		logger:     logger,
		replyQueue: queueName,
		pending:    make(map[string]*slot),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go p.consumeReplies(deliveries)
	return p, nil
}

func (p *Producer) consumeReplies(deliveries <-chan bus.Delivery) {
	defer close(p.done)
	for d := range deliveries {
		var reply wire.Reply
		if err := json.Unmarshal(d.Body, &reply); err != nil {
			if p.logger != nil {
				p.logger.Warn("rpc: malformed reply dropped", "error", err)
			}
			d.Ack()
			continue
		}
		p.deliver(reply)
		d.Ack()
	}
}

// deliver routes a reply into its pending slot. A reply with no matching
// slot (timed out, or duplicate) is discarded — the late-reply-discard
// behavior the spec requires.
func (p *Producer) deliver(reply wire.Reply) {
	p.mu.Lock()
	s, ok := p.pending[reply.CorrelationID]
	if ok && !s.fanout {
		delete(p.pending, reply.CorrelationID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.ch <- reply:
	default:
		// fanout slot buffer full (more workers replied than expected);
		// drop rather than block the reply consumer loop.
	}
}

// Call publishes a task and blocks until a matching reply arrives or the
// context/default timeout expires. On timeout the pending entry is
// removed so a late reply is discarded rather than leaking into a future
// call with a reused correlation ID (never reused in practice since
// correlation IDs are UUIDs, but removal also frees the slot memory).
func (p *Producer) Call(ctx context.Context, exchange, routingKey, taskType string, parameters map[string]any) (*wire.Reply, error) {
	if err := wire.Validate(taskType, parameters); err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, err, "%s", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DefaultTimeout)
	defer cancel()

	correlationID := uuid.NewString()
	task := wire.Task{
		TaskID:        uuid.NewString(),
		TaskType:      taskType,
		Timestamp:     time.Now().Unix(),
		Parameters:    parameters,
		ProducerID:    p.cfg.ProducerID,
		SentAtMs:      time.Now().UnixMilli(),
		CorrelationID: correlationID,
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "encode task")
	}

	s := &slot{ch: make(chan wire.Reply, 1)}
	p.mu.Lock()
	p.pending[correlationID] = s
	p.mu.Unlock()

	cleanup := func() {
		p.mu.Lock()
		delete(p.pending, correlationID)
		p.mu.Unlock()
	}

	if err := p.transport.Publish(ctx, exchange, routingKey, body, bus.PublishOptions{
		ReplyTo:       p.replyQueue,
		CorrelationID: correlationID,
		AppID:         "facehive-producer",
		MessageID:     uuid.NewString(),
		Persistent:    true,
	}); err != nil {
		cleanup()
		return nil, apierr.Wrap(apierr.BusUnavailable, err, "publish task %s", taskType)
	}

	select {
	case reply := <-s.ch:
		if reply.Status == wire.StatusError {
			return &reply, apierr.Decode(reply.Error)
		}
		return &reply, nil
	case <-ctx.Done():
		cleanup()
		return nil, apierr.New(apierr.Timeout, "rpc call %s timed out", taskType)
	}
}

// CallFireAndForget publishes without waiting for a reply (spec's
// send_fire_and_forget equivalent — unused by the routing table today but
// kept as the producer's documented fire-and-forget path).
func (p *Producer) CallFireAndForget(ctx context.Context, exchange, routingKey, taskType string, parameters map[string]any) error {
	if err := wire.Validate(taskType, parameters); err != nil {
		return apierr.Wrap(apierr.InvalidInput, err, "%s", err.Error())
	}
	task := wire.Task{
		TaskID:     uuid.NewString(),
		TaskType:   taskType,
		Timestamp:  time.Now().Unix(),
		Parameters: parameters,
		ProducerID: p.cfg.ProducerID,
		SentAtMs:   time.Now().UnixMilli(),
	}
	body, err := json.Marshal(task)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "encode task")
	}
	if err := p.transport.Publish(ctx, exchange, routingKey, body, bus.PublishOptions{Persistent: true}); err != nil {
		return apierr.Wrap(apierr.BusUnavailable, err, "publish task %s", taskType)
	}
	return nil
}

// CallFanout publishes a fan-out mutation and collects every reply that
// arrives within window, up to expectedWorkers. It returns as soon as
// expectedWorkers replies have arrived or window elapses, whichever is
// first — callers that don't know the live worker count should pass a
// generous window and rely on len(replies) for partial fan-out detection.
func (p *Producer) CallFanout(ctx context.Context, exchange, routingKey, taskType string, parameters map[string]any, expectedWorkers int, window time.Duration) ([]wire.Reply, error) {
	if err := wire.Validate(taskType, parameters); err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, err, "%s", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	correlationID := uuid.NewString()
	task := wire.Task{
		TaskID:        uuid.NewString(),
		TaskType:      taskType,
		Timestamp:     time.Now().Unix(),
		Parameters:    parameters,
		ProducerID:    p.cfg.ProducerID,
		SentAtMs:      time.Now().UnixMilli(),
		CorrelationID: correlationID,
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "encode task")
	}

	bufSize := expectedWorkers
	if bufSize < 1 {
		bufSize = 1
	}
	s := &slot{ch: make(chan wire.Reply, bufSize), fanout: true}
	p.mu.Lock()
	p.pending[correlationID] = s
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, correlationID)
		p.mu.Unlock()
	}()

	if err := p.transport.Publish(ctx, exchange, routingKey, body, bus.PublishOptions{
		ReplyTo:       p.replyQueue,
		CorrelationID: correlationID,
		AppID:         "facehive-producer",
		MessageID:     uuid.NewString(),
		Persistent:    true,
	}); err != nil {
		return nil, apierr.Wrap(apierr.BusUnavailable, err, "publish fanout task %s", taskType)
	}

	var replies []wire.Reply
	for {
		select {
		case reply := <-s.ch:
			replies = append(replies, reply)
			if expectedWorkers > 0 && len(replies) >= expectedWorkers {
				return replies, nil
			}
		case <-ctx.Done():
			if len(replies) == 0 {
				return nil, apierr.New(apierr.Timeout, "fanout call %s timed out with no replies", taskType)
			}
			return replies, nil
		}
	}
}

// Close stops the reply consumer. Outstanding Call invocations will time
// out naturally; Close does not cancel them early.
func (p *Producer) Close() error {
	p.cancel()
	<-p.done
	return p.transport.Close()
}
