// Package store defines the control-plane persistence port (§6.4) and its
// sqlite-backed implementation. Grounded on
// _examples/zkoranges-go-claw/internal/persistence/store.go for the
// schema-version ledger, busy-retry wrapper, and pragma configuration
// idiom, and on tasks.go's transactional insert pattern for
// InsertViewingSessionAndUpsertCounter's atomicity requirement.
package store

import (
	"context"
	"time"
)

// User is a tenant-scoped enrolled identity.
type User struct {
	TenantID  string
	UserID    string
	CreatedAt time.Time
}

// Face is one enrolled face image reference for a user.
type Face struct {
	TenantID  string
	UserID    string
	FaceID    string
	ImageRef  string // e.g. s3://bucket/tenant/face_id
	CreatedAt time.Time
}

// VisitCounter is the persisted tally backing analytics.
type VisitCounter struct {
	TenantID   string
	UserID     string
	VisitCount int
	FirstSeen  time.Time
	LastSeen   time.Time
}

// ViewingSession is one tracked detection event.
type ViewingSession struct {
	TenantID        string
	UserID          string
	StartTS         time.Time
	DurationSeconds int
}

// Store is the control-plane's persistence port (§6.4). Implementations
// must make InsertViewingSession and UpsertVisitCounter atomic together
// within one request — the core requires no other cross-call
// transactionality.
type Store interface {
	GetUser(ctx context.Context, tenantID, userID string) (*User, error)
	CreateUser(ctx context.Context, tenantID, userID string) error
	DeleteUser(ctx context.Context, tenantID, userID string) error // cascades faces

	CreateFace(ctx context.Context, tenantID, userID, faceID, imageRef string) error
	DeleteFace(ctx context.Context, tenantID, userID, faceID string) error

	// InsertViewingSessionAndUpsertCounter inserts a session and updates
	// the user's visit counter atomically, returning the counter's value
	// after the update.
	InsertViewingSessionAndUpsertCounter(ctx context.Context, session ViewingSession) (VisitCounter, error)

	// Analytics query surface (feeds internal/analytics.DataSource).
	AllTimeDistinctUsers(ctx context.Context, tenantID string) (int, error)
	FirstSessionTime(ctx context.Context, tenantID string) (map[string]time.Time, error)
	SessionsInRange(ctx context.Context, tenantID string, start, end time.Time) ([]ViewingSession, error)
	VisitCounts(ctx context.Context, tenantID string) (map[string]int, error)

	// ListTenantFaces returns every face enrolled under tenantID.
	// internal/loader does not call it; its snapshots come from a file or
	// an HTTP endpoint.
	ListTenantFaces(ctx context.Context, tenantID string) ([]Face, error)

	Close() error
}
