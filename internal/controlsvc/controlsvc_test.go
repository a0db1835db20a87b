package controlsvc

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/facehive/facehive/internal/blob/memblob"
	"github.com/facehive/facehive/internal/bus/fakebus"
	"github.com/facehive/facehive/internal/consumer"
	"github.com/facehive/facehive/internal/facemodel"
	"github.com/facehive/facehive/internal/handlers"
	"github.com/facehive/facehive/internal/recog"
	"github.com/facehive/facehive/internal/rpc"
	"github.com/facehive/facehive/internal/store/sqlitestore"
)

// startWorker spins up a single consumer.Runtime against broker, backed by
// a deterministic facemodel.Stub, and returns its recognition index.
func startWorker(t *testing.T, ctx context.Context, broker *fakebus.Broker, workerID string) *recog.Index {
	t.Helper()
	idx := recog.New()
	h := &handlers.Handlers{Index: idx, Model: facemodel.NewStub(0), Threshold: 0.6, WorkerID: workerID}

	cfg := consumer.DefaultConfig()
	cfg.DrainTimeout = time.Second
	rt := consumer.New(fakebus.NewTransport(broker), h, cfg, nil)

	go func() { _ = rt.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	return idx
}

func newTestService(t *testing.T, ctx context.Context, broker *fakebus.Broker) *Service {
	t.Helper()
	p, err := rpc.New(ctx, fakebus.NewTransport(broker), rpc.DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })

	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "facehive.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return New(p, st, memblob.New(), Config{FanoutWorkerCount: 1, FanoutWindow: time.Second}, nil)
}

// imageB64 encodes a 16x16 grayscale PNG whose pixels are taken from
// content, so distinct strings give distinct images that pass the
// handlers' magic-byte and dimension checks.
func imageB64(content string) string {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = content[i%len(content)]
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestRegisterViewerEnrollsNewUserOnNoMatch(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx := startWorker(t, ctx, broker, "w1")
	svc := newTestService(t, ctx, broker)

	result, err := svc.RegisterViewer(ctx, "acme", imageB64("viewer-one"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reused {
		t.Fatal("expected a new user to be created, not reused")
	}
	if result.UserID == "" || result.FaceID == "" {
		t.Fatalf("expected generated user/face IDs, got %+v", result)
	}
	if result.Status != "ok" {
		t.Fatalf("expected ok status, got %s", result.Status)
	}

	faces, err := idx.GetUserFaces("acme", result.UserID)
	if err != nil {
		t.Fatalf("expected enrolled user to be findable: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 enrolled face, got %d", len(faces))
	}
}

func TestRegisterViewerReusesMatchedUser(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorker(t, ctx, broker, "w1")
	svc := newTestService(t, ctx, broker)

	img := imageB64("viewer-two")
	first, err := svc.RegisterViewer(ctx, "acme", img)
	if err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}

	second, err := svc.RegisterViewer(ctx, "acme", img)
	if err != nil {
		t.Fatalf("unexpected error on second registration: %v", err)
	}
	if !second.Reused {
		t.Fatal("expected the second registration with the same face to reuse the existing user")
	}
	if second.UserID != first.UserID {
		t.Fatalf("expected reused user_id %s, got %s", first.UserID, second.UserID)
	}
}

func TestTrackViewerReportsUnmatchedWhenNoEnrollment(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorker(t, ctx, broker, "w1")
	svc := newTestService(t, ctx, broker)

	result, err := svc.TrackViewer(ctx, "acme", imageB64("stranger"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Fatal("expected no match for an unenrolled face")
	}
}

func TestTrackViewerUpsertsCounterOnMatch(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorker(t, ctx, broker, "w1")
	svc := newTestService(t, ctx, broker)

	img := imageB64("regular-viewer")
	reg, err := svc.RegisterViewer(ctx, "acme", img)
	if err != nil {
		t.Fatalf("unexpected error registering: %v", err)
	}

	first, err := svc.TrackViewer(ctx, "acme", img)
	if err != nil {
		t.Fatalf("unexpected error tracking: %v", err)
	}
	if !first.Matched || first.UserID != reg.UserID {
		t.Fatalf("expected a match against the registered user, got %+v", first)
	}
	if first.VisitCount != 2 {
		// registration itself records a viewing session, so the first
		// explicit track is the second visit.
		t.Fatalf("expected visit count 2, got %d", first.VisitCount)
	}

	second, err := svc.TrackViewer(ctx, "acme", img)
	if err != nil {
		t.Fatalf("unexpected error on repeat track: %v", err)
	}
	if second.VisitCount != 3 {
		t.Fatalf("expected visit count 3, got %d", second.VisitCount)
	}
}

func TestCreateUserFanoutIsOkWhenAllWorkersAgree(t *testing.T) {
	broker := fakebus.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorker(t, ctx, broker, "w1")
	startWorker(t, ctx, broker, "w2")

	p, err := rpc.New(ctx, fakebus.NewTransport(broker), rpc.DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "facehive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	svc := New(p, st, memblob.New(), Config{FanoutWorkerCount: 2, FanoutWindow: time.Second}, nil)

	// Both workers start with an empty index, so a fresh face_id is
	// accepted by both and the fanout should resolve cleanly — this test
	// documents the happy path for CallFanout's multi-reply collection,
	// since the fakebus transport has no way to make one worker reject
	// while another accepts the same create_user call.
	result, err := svc.RegisterViewer(ctx, "acme", imageB64("fanout-check"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("expected ok status with both workers agreeing, got %s", result.Status)
	}
}
