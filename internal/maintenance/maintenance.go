// Package maintenance runs periodic background jobs for the worker and the
// control plane: snapshot refresh (re-running the C6 loader to heal any fan-out divergence between
// workers, per spec §7's "the next snapshot reload heals the divergence")
// and audit log retention. Grounded on the teacher's internal/cron scheduler
// shape (ticker-driven loop, context-cancelable Start/Stop), replacing its
// store-driven dynamic schedule table with two fixed jobs since this domain
// has no concept of user-defined cron schedules.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/facehive/facehive/internal/loader"
	"github.com/facehive/facehive/internal/recog"
)

// Config controls job intervals and the snapshot-loader settings used for
// periodic refresh.
type Config struct {
	SnapshotRefreshInterval time.Duration // 0 disables snapshot refresh
	AuditRetention          time.Duration // 0 disables audit retention sweep
	LoaderConfig            loader.Config
	Logger                  *slog.Logger
}

// AuditStore is the minimal surface maintenance needs to purge stale audit
// rows. internal/store/sqlitestore.Store implements it.
type AuditStore interface {
	PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the configured jobs on independent tickers until Stop is
// called.
type Scheduler struct {
	cfg    Config
	index  *recog.Index
	audit  AuditStore
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. audit may be nil if retention sweeping is not
// wired for this process.
func New(cfg Config, index *recog.Index, audit AuditStore) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, index: index, audit: audit, logger: logger}
}

// Start launches the configured jobs in background goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.SnapshotRefreshInterval > 0 {
		s.wg.Add(1)
		go s.snapshotRefreshLoop(ctx)
	}
	if s.cfg.AuditRetention > 0 && s.audit != nil {
		s.wg.Add(1)
		go s.auditSweepLoop(ctx)
	}
	s.logger.Info("maintenance scheduler started",
		"snapshot_refresh_interval", s.cfg.SnapshotRefreshInterval,
		"audit_retention", s.cfg.AuditRetention,
	)
}

// Stop cancels all jobs and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) snapshotRefreshLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SnapshotRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshSnapshot(ctx)
		}
	}
}

func (s *Scheduler) refreshSnapshot(ctx context.Context) {
	result, err := loader.Load(ctx, s.cfg.LoaderConfig, s.index, s.logger)
	if err != nil {
		s.logger.Error("maintenance: snapshot refresh failed", "error", err)
		return
	}
	s.logger.Info("maintenance: snapshot refreshed",
		"tenants_loaded", result.TenantsLoaded,
		"faces_loaded", result.FacesLoaded,
		"orphans_skipped", len(result.OrphansSkipped),
	)
}

func (s *Scheduler) auditSweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AuditRetention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAudit(ctx)
		}
	}
}

func (s *Scheduler) sweepAudit(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.AuditRetention)
	purged, err := s.audit.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("maintenance: audit sweep failed", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("maintenance: audit rows purged", "count", purged, "cutoff", cutoff)
	}
}
