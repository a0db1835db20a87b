package recog

import (
	"testing"

	"github.com/facehive/facehive/internal/apierr"
)

func vec(vals ...float32) []float32 { return vals }

func TestRecognizeReturnsMatchAboveThreshold(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	if err := idx.AddFace("t1", "u0", "f0", vec(1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	m, err := idx.Recognize("t1", vec(1, 0, 0), 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if m.UserID != "u0" {
		t.Fatalf("expected u0, got %q", m.UserID)
	}
	if m.Confidence < 0.7 {
		t.Fatalf("expected confidence >= 0.7, got %v", m.Confidence)
	}
}

// P2: a reported match's cosine similarity must be >= threshold.
func TestRecognizeNeverReportsBelowThreshold(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0, 0))
	m, err := idx.Recognize("t1", vec(0, 1, 0), 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if m.UserID != "" {
		t.Fatalf("expected no match, got %q with confidence %v", m.UserID, m.Confidence)
	}
}

// P3: deterministic tie-break by lexicographically smallest face_id,
// independent of insertion/row order.
func TestRecognizeTieBreaksByFaceID(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u-z", "face-z", vec(1, 0))
	idx.AddFace("t1", "u-a", "face-a", vec(1, 0))

	m, err := idx.Recognize("t1", vec(1, 0), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if m.FaceID != "face-a" {
		t.Fatalf("expected tie-break to pick face-a, got %s", m.FaceID)
	}
}

// Scenario 2: cross-tenant isolation.
func TestRecognizeAcrossTenantsIsolated(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0, 0))

	m, err := idx.Recognize("t2", vec(1, 0, 0), 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if m.UserID != "" || m.Confidence != 0 {
		t.Fatalf("expected no match in absent tenant, got %+v", m)
	}
}

// R1: create; delete; create leaves an empty tenant.
func TestCreateDeleteCreateTenantLeavesEmptyTenant(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0))
	idx.DeleteTenant("t1")
	idx.CreateTenant("t1")

	faces, err := idx.GetUserFaces("t1", "u0")
	if err == nil {
		t.Fatalf("expected NotFound for user in freshly recreated tenant, got faces %v", faces)
	}
	if !apierr.Is(err, apierr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

// R2: add_face; delete_face returns the index to its prior state (same
// vector layout after compaction).
func TestAddThenDeleteFaceRestoresPriorLayout(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0, 0))
	idx.AddFace("t1", "u1", "f1", vec(0, 1, 0))

	statsBefore := idx.Stats()

	if err := idx.AddFace("t1", "u2", "f2", vec(0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := idx.DeleteFace("t1", "u2", "f2"); err != nil {
		t.Fatal(err)
	}

	statsAfter := idx.Stats()
	if statsAfter != statsBefore {
		t.Fatalf("expected stats to match prior state: before=%+v after=%+v", statsBefore, statsAfter)
	}

	// f0 must still be recognizable after the add and delete.
	m, err := idx.Recognize("t1", vec(1, 0, 0), 0.9)
	if err != nil || m.UserID != "u0" {
		t.Fatalf("expected u0 still recognizable, got %+v err=%v", m, err)
	}
}

func TestAddFaceRejectsDuplicateFaceID(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0))
	err := idx.AddFace("t1", "u1", "f0", vec(0, 1))
	if !apierr.Is(err, apierr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestAddFaceRejectsDimensionMismatch(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0, 0))
	err := idx.AddFace("t1", "u1", "f1", vec(1, 0))
	if !apierr.Is(err, apierr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestDeleteUserCascadesAllFaces(t *testing.T) {
	idx := New()
	idx.CreateTenant("t1")
	idx.AddFace("t1", "u0", "f0", vec(1, 0))
	idx.AddFace("t1", "u0", "f1", vec(0, 1))
	idx.AddFace("t1", "u1", "f2", vec(1, 1))

	if err := idx.DeleteUser("t1", "u0"); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.GetUserFaces("t1", "u0"); !apierr.Is(err, apierr.NotFound) {
		t.Fatalf("expected NotFound after cascade delete, got %v", err)
	}
	faces, err := idx.GetUserFaces("t1", "u1")
	if err != nil || len(faces) != 1 {
		t.Fatalf("expected u1 untouched, got %v err=%v", faces, err)
	}
}
