package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("task-1", "create_tenant", "worker-aaa", OutcomeApplied, "")
	Record("task-2", "add_face", "worker-aaa", OutcomeSkipped, "already applied")

	path := filepath.Join(home, "logs", "audit.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first audit entry: %v", err)
	}
	if first["outcome"] != OutcomeApplied {
		t.Fatalf("expected applied outcome, got %#v", first["outcome"])
	}
	if first["task_type"] != "create_tenant" {
		t.Fatalf("expected task_type create_tenant, got %#v", first["task_type"])
	}
	if first["worker_id"] != "worker-aaa" {
		t.Fatalf("expected worker_id in audit entry: %#v", first)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("task-1", "create_user", "worker-a", OutcomeApplied, "")
	Record("task-2", "delete_user", "worker-a", OutcomeFailed, "store unavailable")

	path := filepath.Join(home, "logs", "audit.jsonl")

	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}
	size1 := info1.Size()

	Record("task-3", "delete_face", "worker-a", OutcomeApplied, "")

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	size2 := info2.Size()
	if size2 <= size1 {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", size1, size2)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}

	for i, line := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["outcome"]; !ok {
			t.Fatalf("line %d missing outcome", i)
		}
	}
}

func TestAppliedAndSkippedCountsTrackOutcomes(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := AppliedCount()
	beforeSkipped := SkippedCount()

	Record("task-1", "create_tenant", "worker-a", OutcomeApplied, "")
	Record("task-2", "create_tenant", "worker-a", OutcomeSkipped, "stale")

	if AppliedCount() != before+1 {
		t.Errorf("expected AppliedCount to increment by 1, got %d -> %d", before, AppliedCount())
	}
	if SkippedCount() != beforeSkipped+1 {
		t.Errorf("expected SkippedCount to increment by 1, got %d -> %d", beforeSkipped, SkippedCount())
	}
}
