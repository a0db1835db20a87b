package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all facehive metrics instruments.
type Metrics struct {
	RequestDuration     metric.Float64Histogram
	TaskDuration        metric.Float64Histogram
	RecognitionDuration metric.Float64Histogram
	TasksProcessed      metric.Int64Counter
	TaskErrors          metric.Int64Counter
	ReplyTimeouts       metric.Int64Counter
	FanoutApplied       metric.Int64Counter
	FanoutSkipped       metric.Int64Counter
	ActiveConsumers     metric.Int64UpDownCounter
	IndexSize           metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("facehive.request.duration",
		metric.WithDescription("Control-plane HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("facehive.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RecognitionDuration, err = meter.Float64Histogram("facehive.recognition.duration",
		metric.WithDescription("Time spent scoring a recognition index"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksProcessed, err = meter.Int64Counter("facehive.task.processed",
		metric.WithDescription("Total tasks acked by the consumer runtime"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskErrors, err = meter.Int64Counter("facehive.task.errors",
		metric.WithDescription("Task handler error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ReplyTimeouts, err = meter.Int64Counter("facehive.rpc.reply_timeouts",
		metric.WithDescription("Producer RPC calls that timed out waiting for a reply"),
	)
	if err != nil {
		return nil, err
	}

	m.FanoutApplied, err = meter.Int64Counter("facehive.fanout.applied",
		metric.WithDescription("Fan-out mutation tasks applied by a worker"),
	)
	if err != nil {
		return nil, err
	}

	m.FanoutSkipped, err = meter.Int64Counter("facehive.fanout.skipped",
		metric.WithDescription("Fan-out mutation tasks skipped by a worker"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConsumers, err = meter.Int64UpDownCounter("facehive.consumer.active",
		metric.WithDescription("Number of active consumer goroutines"),
	)
	if err != nil {
		return nil, err
	}

	m.IndexSize, err = meter.Int64UpDownCounter("facehive.recog.index_size",
		metric.WithDescription("Total embeddings held across all tenant indexes"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
