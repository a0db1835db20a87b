// Package sqlitestore implements internal/store.Store on SQLite, adapting
// the teacher's versioned schema-ledger and busy-retry idiom from
// _examples/zkoranges-go-claw/internal/persistence/store.go.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/store"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements store.Store on a single-writer SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// pending schema migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlitestore: path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=FULL;"} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}

	for _, m := range migrations {
		if m.version <= maxVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)`, m.version, m.checksum); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
	}
	return tx.Commit()
}

// retryOnBusy retries f on SQLITE_BUSY/LOCKED with bounded exponential
// backoff plus jitter, matching the teacher's retry policy.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for packages that need to write to
// tables this port doesn't front directly, e.g. internal/audit's
// audit_log writes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// PurgeAuditBefore deletes audit_log rows older than cutoff, satisfying
// internal/maintenance.AuditStore.
func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetUser(ctx context.Context, tenantID, userID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tenant_id, user_id, created_at FROM users WHERE tenant_id = ? AND user_id = ?`, tenantID, userID)
	var u store.User
	if err := row.Scan(&u.TenantID, &u.UserID, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, tenantID, userID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO users (tenant_id, user_id) VALUES (?, ?)`, tenantID, userID)
		return err
	})
}

func (s *Store) DeleteUser(ctx context.Context, tenantID, userID string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM faces WHERE tenant_id = ? AND user_id = ?`, tenantID, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE tenant_id = ? AND user_id = ?`, tenantID, userID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) CreateFace(ctx context.Context, tenantID, userID, faceID, imageRef string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO faces (tenant_id, user_id, face_id, image_ref) VALUES (?, ?, ?, ?)`,
			tenantID, userID, faceID, imageRef)
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
			return apierr.New(apierr.Conflict, "face_id %s already exists", faceID)
		}
		return err
	})
}

func (s *Store) DeleteFace(ctx context.Context, tenantID, userID, faceID string) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM faces WHERE tenant_id = ? AND user_id = ? AND face_id = ?`, tenantID, userID, faceID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apierr.New(apierr.NotFound, "face_id %s not found", faceID)
		}
		return nil
	})
}

// InsertViewingSessionAndUpsertCounter inserts the session and updates the
// visit counter atomically, per the store port's one transactionality
// requirement (§6.4).
func (s *Store) InsertViewingSessionAndUpsertCounter(ctx context.Context, session store.ViewingSession) (store.VisitCounter, error) {
	var counter store.VisitCounter
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO viewing_sessions (tenant_id, user_id, start_ts, duration_seconds) VALUES (?, ?, ?, ?)`,
			session.TenantID, session.UserID, session.StartTS, session.DurationSeconds); err != nil {
			return fmt.Errorf("insert viewing session: %w", err)
		}

		now := session.StartTS
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO visit_counters (tenant_id, user_id, visit_count, first_seen, last_seen)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(tenant_id, user_id) DO UPDATE SET
				visit_count = visit_count + 1,
				last_seen = excluded.last_seen
		`, session.TenantID, session.UserID, now, now); err != nil {
			return fmt.Errorf("upsert visit counter: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT tenant_id, user_id, visit_count, first_seen, last_seen FROM visit_counters WHERE tenant_id = ? AND user_id = ?`,
			session.TenantID, session.UserID)
		if err := row.Scan(&counter.TenantID, &counter.UserID, &counter.VisitCount, &counter.FirstSeen, &counter.LastSeen); err != nil {
			return fmt.Errorf("read visit counter after upsert: %w", err)
		}

		return tx.Commit()
	})
	return counter, err
}

func (s *Store) AllTimeDistinctUsers(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, err
}

func (s *Store) FirstSessionTime(ctx context.Context, tenantID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, MIN(start_ts) FROM viewing_sessions WHERE tenant_id = ? GROUP BY user_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var userID string
		var t time.Time
		if err := rows.Scan(&userID, &t); err != nil {
			return nil, err
		}
		out[userID] = t
	}
	return out, rows.Err()
}

func (s *Store) SessionsInRange(ctx context.Context, tenantID string, start, end time.Time) ([]store.ViewingSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, user_id, start_ts, duration_seconds
		FROM viewing_sessions
		WHERE tenant_id = ? AND start_ts >= ? AND start_ts <= ?
	`, tenantID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ViewingSession
	for rows.Next() {
		var vs store.ViewingSession
		if err := rows.Scan(&vs.TenantID, &vs.UserID, &vs.StartTS, &vs.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, vs)
	}
	return out, rows.Err()
}

func (s *Store) VisitCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, visit_count FROM visit_counters WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		out[userID] = count
	}
	return out, rows.Err()
}

func (s *Store) ListTenantFaces(ctx context.Context, tenantID string) ([]store.Face, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, user_id, face_id, image_ref, created_at FROM faces WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Face
	for rows.Next() {
		var f store.Face
		if err := rows.Scan(&f.TenantID, &f.UserID, &f.FaceID, &f.ImageRef, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
