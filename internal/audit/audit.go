// Package audit records every fan-out mutation task (create_tenant,
// delete_tenant, create_user, delete_user, add_face, delete_face) as each
// worker applies it to its local internal/recog index, so that divergence
// between workers' in-memory state can be diagnosed after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facehive/facehive/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	WorkerID  string `json:"worker_id"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}

var (
	mu         sync.Mutex
	file       *os.File
	db         *sql.DB
	skipCount  atomic.Int64
	applyCount atomic.Int64
)

// Init opens the append-only audit.jsonl file under homeDir/logs. Calling
// it more than once is a no-op.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes, in addition to
// the JSONL file.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// AppliedCount returns the number of fan-out mutations applied since startup.
func AppliedCount() int64 { return applyCount.Load() }

// SkippedCount returns the number of fan-out mutations skipped (stale task,
// already-applied idempotency check) since startup.
func SkippedCount() int64 { return skipCount.Load() }

// Outcome values recorded by Record.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Record logs the outcome of a worker applying a fan-out mutation task to
// its local index. reason is redacted before persistence since error text
// can carry connection strings.
func Record(taskID, taskType, workerID, outcome, reason string) {
	switch outcome {
	case OutcomeApplied:
		applyCount.Add(1)
	case OutcomeSkipped:
		skipCount.Add(1)
	}

	reason = shared.Redact(reason)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			TaskID:    taskID,
			TaskType:  taskType,
			WorkerID:  workerID,
			Outcome:   outcome,
			Reason:    reason,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (task_id, task_type, worker_id, outcome, reason)
			VALUES (?, ?, ?, ?, ?);
		`, taskID, taskType, workerID, outcome, reason)
	}
}
