package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.TaskDuration == nil {
		t.Error("TaskDuration is nil")
	}
	if m.RecognitionDuration == nil {
		t.Error("RecognitionDuration is nil")
	}
	if m.TasksProcessed == nil {
		t.Error("TasksProcessed is nil")
	}
	if m.TaskErrors == nil {
		t.Error("TaskErrors is nil")
	}
	if m.ReplyTimeouts == nil {
		t.Error("ReplyTimeouts is nil")
	}
	if m.FanoutApplied == nil {
		t.Error("FanoutApplied is nil")
	}
	if m.FanoutSkipped == nil {
		t.Error("FanoutSkipped is nil")
	}
	if m.ActiveConsumers == nil {
		t.Error("ActiveConsumers is nil")
	}
	if m.IndexSize == nil {
		t.Error("IndexSize is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
