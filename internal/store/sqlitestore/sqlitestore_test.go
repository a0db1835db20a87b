package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facehive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "tenant1", "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u, err := s.GetUser(ctx, "tenant1", "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u == nil || u.UserID != "alice" {
		t.Fatalf("expected user alice, got %+v", u)
	}

	missing, err := s.GetUser(ctx, "tenant1", "bob")
	if err != nil {
		t.Fatalf("GetUser missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %+v", missing)
	}
}

func TestCreateUserIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatalf("second CreateUser should be a no-op, got %v", err)
	}
}

func TestCreateFaceRejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateFace(ctx, "t1", "alice", "face1", "s3://bucket/t1/face1"); err != nil {
		t.Fatalf("CreateFace: %v", err)
	}
	err := s.CreateFace(ctx, "t1", "alice", "face1", "s3://bucket/t1/face1-dup")
	if err == nil {
		t.Fatal("expected conflict error on duplicate face_id")
	}
	if !apierr.Is(err, apierr.Conflict) {
		t.Errorf("expected Conflict kind, got %v", err)
	}
}

func TestDeleteFaceNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}
	err := s.DeleteFace(ctx, "t1", "alice", "ghost")
	if !apierr.Is(err, apierr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDeleteUserCascadesFaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateFace(ctx, "t1", "alice", "f1", "ref1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}
	faces, err := s.ListTenantFaces(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 0 {
		t.Fatalf("expected no faces after cascading delete, got %+v", faces)
	}
}

func TestInsertViewingSessionUpsertsCounterAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}

	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c1, err := s.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: "t1", UserID: "alice", StartTS: first, DurationSeconds: 60,
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if c1.VisitCount != 1 {
		t.Errorf("expected visit_count=1, got %d", c1.VisitCount)
	}

	second := first.Add(time.Hour)
	c2, err := s.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: "t1", UserID: "alice", StartTS: second, DurationSeconds: 30,
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if c2.VisitCount != 2 {
		t.Errorf("expected visit_count=2, got %d", c2.VisitCount)
	}

	sessions, err := s.SessionsInRange(ctx, "t1", first, second)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions in range, got %d", len(sessions))
	}

	counts, err := s.VisitCounts(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if counts["alice"] != 2 {
		t.Errorf("expected VisitCounts alice=2, got %d", counts["alice"])
	}
}

func TestFirstSessionTimeTracksEarliestAcrossInserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}

	later := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: "t1", UserID: "alice", StartTS: later, DurationSeconds: 10,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: "t1", UserID: "alice", StartTS: earlier, DurationSeconds: 10,
	}); err != nil {
		t.Fatal(err)
	}

	first, err := s.FirstSessionTime(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !first["alice"].Equal(earlier) {
		t.Errorf("expected first session at %v, got %v", earlier, first["alice"])
	}
}

func TestAnalyticsSourceAdaptsSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, "t1", "alice"); err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if _, err := s.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: "t1", UserID: "alice", StartTS: ts, DurationSeconds: 120,
	}); err != nil {
		t.Fatal(err)
	}

	src := NewAnalyticsSource(s)
	sessions, err := src.SessionsInRange(ctx, "t1", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].DurationSeconds != 120 {
		t.Fatalf("unexpected adapted sessions: %+v", sessions)
	}
}
