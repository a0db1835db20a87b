package sqlitestore

const (
	// schema ledger, mirroring the teacher's versioned-migration
	// convention: each version is a checksum-tagged, additive migration
	// applied once and recorded in schema_migrations.
	schemaVersionV1  = 1
	schemaChecksumV1 = "fh-v1-2026-07-01-initial-schema"

	schemaVersionV2  = 2
	schemaChecksumV2 = "fh-v2-2026-07-15-audit-log"

	schemaVersionLatest  = schemaVersionV2
	schemaChecksumLatest = schemaChecksumV2
)

var migrations = []struct {
	version  int
	checksum string
	ddl      string
}{
	{
		version:  schemaVersionV1,
		checksum: schemaChecksumV1,
		ddl: `
			CREATE TABLE IF NOT EXISTS users (
				tenant_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (tenant_id, user_id)
			);

			CREATE TABLE IF NOT EXISTS faces (
				tenant_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				face_id TEXT NOT NULL,
				image_ref TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (tenant_id, face_id),
				FOREIGN KEY (tenant_id, user_id) REFERENCES users(tenant_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_faces_user ON faces(tenant_id, user_id);

			CREATE TABLE IF NOT EXISTS viewing_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				start_ts DATETIME NOT NULL,
				duration_seconds INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_tenant_time ON viewing_sessions(tenant_id, start_ts);

			CREATE TABLE IF NOT EXISTS visit_counters (
				tenant_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				visit_count INTEGER NOT NULL DEFAULT 0,
				first_seen DATETIME NOT NULL,
				last_seen DATETIME NOT NULL,
				PRIMARY KEY (tenant_id, user_id)
			);
		`,
	},
	{
		version:  schemaVersionV2,
		checksum: schemaChecksumV2,
		ddl: `
			CREATE TABLE IF NOT EXISTS audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id TEXT NOT NULL,
				task_type TEXT NOT NULL,
				worker_id TEXT NOT NULL,
				outcome TEXT NOT NULL,
				reason TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
		`,
	},
}
