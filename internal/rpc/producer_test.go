package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/bus"
	"github.com/facehive/facehive/internal/bus/fakebus"
	"github.com/facehive/facehive/internal/wire"
)

// startEchoWorker consumes face_processing_tasks and replies with a
// canned success result, round-tripping correlation_id verbatim.
func startEchoWorker(t *testing.T, ctx context.Context, broker *fakebus.Broker) {
	t.Helper()
	workerTransport := fakebus.NewTransport(broker)
	if err := workerTransport.DeclareDirectExchange(ctx, wire.ExchangeFaceTasks, wire.QueueFaceProcessing,
		[]string{wire.TaskHealthCheck, wire.TaskFaceRecognize}); err != nil {
		t.Fatal(err)
	}
	deliveries, err := workerTransport.Consume(ctx, wire.QueueFaceProcessing, 1)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for d := range deliveries {
			var task wire.Task
			if err := json.Unmarshal(d.Body, &task); err != nil {
				continue
			}
			reply := wire.Reply{
				Status:        wire.StatusSuccess,
				Result:        map[string]any{"status": "ok"},
				WorkerID:      "w1",
				ProcessedAtMs: time.Now().UnixMilli(),
				CorrelationID: task.CorrelationID,
			}
			body, _ := json.Marshal(reply)
			workerTransport.Publish(ctx, "", d.ReplyTo, body, bus.PublishOptions{CorrelationID: task.CorrelationID})
			d.Ack()
		}
	}()
}

func TestCallReceivesMatchingCorrelatedReply(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startEchoWorker(t, ctx, broker)

	producerTransport := fakebus.NewTransport(broker)
	p, err := New(ctx, producerTransport, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	reply, err := p.Call(ctx, wire.ExchangeFaceTasks, wire.TaskHealthCheck, wire.TaskHealthCheck, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Status != wire.StatusSuccess {
		t.Fatalf("expected success, got %s", reply.Status)
	}
}

func TestCallTimesOutWhenNoWorker(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx := context.Background()

	producerTransport := fakebus.NewTransport(broker)
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 100 * time.Millisecond
	p, err := New(ctx, producerTransport, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	start := time.Now()
	_, err = p.Call(ctx, wire.ExchangeFaceTasks, wire.TaskFaceRecognize, wire.TaskFaceRecognize, map[string]any{
		"tenant_id": "t1", "image_b64": "Zm9v",
	})
	elapsed := time.Since(start)

	if !apierr.Is(err, apierr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestConcurrentCallsNeverCrossMatchCorrelationIDs(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startEchoWorker(t, ctx, broker)

	producerTransport := fakebus.NewTransport(broker)
	p, err := New(ctx, producerTransport, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	const n = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := p.Call(ctx, wire.ExchangeFaceTasks, wire.TaskHealthCheck, wire.TaskHealthCheck, map[string]any{})
			if err != nil {
				errs <- err
				return
			}
			if reply.Status != wire.StatusSuccess {
				errs <- err
			}
			mu.Lock()
			seen[reply.CorrelationID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("call failed: %v", err)
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct reply correlation IDs, got %d", n, len(seen))
	}
}

func TestCallRejectsInvalidParameters(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producerTransport := fakebus.NewTransport(broker)
	p, err := New(ctx, producerTransport, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_, err = p.Call(ctx, wire.ExchangeFaceTasks, wire.TaskFaceRecognize, wire.TaskFaceRecognize, map[string]any{
		"tenant_id": "t1",
	})
	if !apierr.Is(err, apierr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
