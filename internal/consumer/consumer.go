// Package consumer implements the worker-side runtime (C3): it binds the
// fan-out mutation queue and the single-consumer processing queue,
// dispatches each task to internal/handlers, and replies or
// acks/nacks according to the wire contract (§5, §6.2). Run does not
// reconnect: when the transport closes a delivery channel, that
// subscription's loop ends and is not restarted. Graceful shutdown follows
// the teacher's drain-with-timeout idiom from cmd/goclaw/main.go.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/audit"
	"github.com/facehive/facehive/internal/bus"
	"github.com/facehive/facehive/internal/shared"
	"github.com/facehive/facehive/internal/wire"
)

// Dispatcher is the task-handling surface the consumer runtime drives.
// internal/handlers.Handlers satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskType string, parameters map[string]any) (map[string]any, error)
}

// Config controls prefetch and shutdown behavior.
type Config struct {
	WorkerID      string
	Prefetch      int
	DrainTimeout  time.Duration
	HandlerBudget time.Duration // per-task timeout
}

// DefaultConfig returns sane defaults grounded on the spec's 30s RPC
// timeout and the teacher's 5s drain timeout.
func DefaultConfig() Config {
	return Config{
		WorkerID:      "worker-" + uuid.NewString()[:8],
		Prefetch:      1,
		DrainTimeout:  5 * time.Second,
		HandlerBudget: 30 * time.Second,
	}
}

// Runtime is one worker process's consumption loop.
type Runtime struct {
	transport  bus.Transport
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger

	wg sync.WaitGroup
}

// New builds a Runtime. Callers must call Run to start consuming.
func New(transport bus.Transport, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{transport: transport, dispatcher: dispatcher, cfg: cfg, logger: logger}
}

// Run declares topology, starts both subscriptions, and blocks until ctx
// is canceled, at which point it waits up to cfg.DrainTimeout for
// in-flight handlers before returning.
func (r *Runtime) Run(ctx context.Context) error {
	fanoutQueue, err := r.transport.DeclareFanoutExchange(ctx, wire.ExchangeCacheUpdates, bus.QueueSpec{
		Exclusive:  true,
		AutoDelete: true,
	})
	if err != nil {
		return err
	}

	routingKeys := make([]string, 0, len(wire.ProcessingTasks))
	for taskType := range wire.ProcessingTasks {
		routingKeys = append(routingKeys, taskType)
	}
	if err := r.transport.DeclareDirectExchange(ctx, wire.ExchangeFaceTasks, wire.QueueFaceProcessing, routingKeys); err != nil {
		return err
	}

	fanoutDeliveries, err := r.transport.Consume(ctx, fanoutQueue, r.cfg.Prefetch)
	if err != nil {
		return err
	}
	processingDeliveries, err := r.transport.Consume(ctx, wire.QueueFaceProcessing, r.cfg.Prefetch)
	if err != nil {
		return err
	}

	r.wg.Add(2)
	go r.consumeLoop(ctx, fanoutDeliveries)
	go r.consumeLoop(ctx, processingDeliveries)

	<-ctx.Done()
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.cfg.DrainTimeout):
		r.logger.Warn("drain timeout exceeded, shutting down with handlers still in flight")
	}
	return nil
}

func (r *Runtime) consumeLoop(ctx context.Context, deliveries <-chan bus.Delivery) {
	defer r.wg.Done()
	for d := range deliveries {
		r.handleDelivery(ctx, d)
	}
}

func (r *Runtime) handleDelivery(ctx context.Context, d bus.Delivery) {
	traceID := d.CorrelationID
	if traceID == "" {
		traceID = shared.NewTraceID()
	}
	ctx = shared.WithTraceID(ctx, traceID)

	var task wire.Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		r.logger.Error("poison message: invalid task envelope", "trace_id", shared.TraceID(ctx), "error", err)
		_ = d.Nack(false)
		return
	}

	if err := wire.Validate(task.TaskType, task.Parameters); err != nil {
		r.logger.Warn("task failed schema validation", "trace_id", shared.TraceID(ctx), "task_type", task.TaskType, "error", err)
		r.replyError(ctx, d, apierr.New(apierr.InvalidInput, "%s", err.Error()))
		_ = d.Ack()
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, r.cfg.HandlerBudget)
	result, err := r.dispatcher.Dispatch(handlerCtx, task.TaskType, task.Parameters)
	cancel()

	if err != nil {
		if wire.IsFanout(task.TaskType) {
			audit.Record(task.TaskID, task.TaskType, r.cfg.WorkerID, audit.OutcomeFailed, err.Error())
		}
		r.logger.Warn("handler returned an error", "trace_id", shared.TraceID(ctx), "task_type", task.TaskType, "error", err)
		r.replyError(ctx, d, err)
		_ = d.Nack(false)
		return
	}

	if wire.IsFanout(task.TaskType) {
		audit.Record(task.TaskID, task.TaskType, r.cfg.WorkerID, audit.OutcomeApplied, "")
	}
	r.replySuccess(ctx, d, result)
	_ = d.Ack()
}

func (r *Runtime) replySuccess(ctx context.Context, d bus.Delivery, result map[string]any) {
	if d.ReplyTo == "" {
		return
	}
	reply := wire.Reply{
		Status:        wire.StatusSuccess,
		Result:        result,
		WorkerID:      r.cfg.WorkerID,
		ProcessedAtMs: time.Now().UnixMilli(),
		CorrelationID: d.CorrelationID,
	}
	r.publishReply(ctx, d.ReplyTo, reply)
}

func (r *Runtime) replyError(ctx context.Context, d bus.Delivery, err error) {
	if d.ReplyTo == "" {
		return
	}
	reply := wire.Reply{
		Status:        wire.StatusError,
		Error:         apierr.Encode(err),
		WorkerID:      r.cfg.WorkerID,
		ProcessedAtMs: time.Now().UnixMilli(),
		CorrelationID: d.CorrelationID,
	}
	r.publishReply(ctx, d.ReplyTo, reply)
}

func (r *Runtime) publishReply(ctx context.Context, replyTo string, reply wire.Reply) {
	body, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error("failed to marshal reply", "error", err)
		return
	}
	if err := r.transport.Publish(ctx, "", replyTo, body, bus.PublishOptions{
		CorrelationID: reply.CorrelationID,
		Persistent:    true,
	}); err != nil {
		r.logger.Error("failed to publish reply", "reply_to", replyTo, "error", err)
	}
}
