package maintenance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facehive/facehive/internal/loader"
	"github.com/facehive/facehive/internal/recog"
)

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type fakeAuditStore struct {
	calls atomic.Int64
}

func (f *fakeAuditStore) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

func writeSnapshot(t *testing.T, snap loader.Snapshot) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSnapshotRefreshLoopAppliesLoader(t *testing.T) {
	path := writeSnapshot(t, loader.Snapshot{
		Tenants: []string{"acme"},
	})
	idx := recog.New()

	sched := New(Config{
		SnapshotRefreshInterval: 20 * time.Millisecond,
		LoaderConfig: loader.Config{
			DataSource: loader.SourceLocalFile,
			DataFile:   path,
		},
	}, idx, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, time.Second, func() bool {
		return idx.Stats().Tenants == 1
	})
}

func TestAuditSweepLoopInvokesPurge(t *testing.T) {
	audit := &fakeAuditStore{}
	sched := New(Config{
		AuditRetention: 40 * time.Millisecond,
	}, recog.New(), audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, time.Second, func() bool {
		return audit.calls.Load() > 0
	})
}

func TestSchedulerWithNoJobsConfiguredStartsAndStopsCleanly(t *testing.T) {
	sched := New(Config{}, recog.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	sched.Stop()
}
