package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/facemodel"
	"github.com/facehive/facehive/internal/recog"
)

func fixtureJPEG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newHandlers() *Handlers {
	return &Handlers{
		Index:     recog.New(),
		Model:     facemodel.NewStub(32),
		Threshold: 0.7,
		WorkerID:  "w-test",
	}
}

func TestCreateTenantThenCreateUserThenRecognize(t *testing.T) {
	h := newHandlers()
	ctx := context.Background()
	img := fixtureJPEG(t, 64, 64)

	if _, err := h.Dispatch(ctx, "create_tenant", map[string]any{"tenant_id": "t1"}); err != nil {
		t.Fatal(err)
	}
	result, err := h.Dispatch(ctx, "create_user", map[string]any{
		"tenant_id": "t1", "user_id": "u0", "face_id": "f0", "image_b64": img,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result["embedding"]; !ok {
		t.Fatal("expected embedding in result")
	}

	recResult, err := h.Dispatch(ctx, "face_recognition", map[string]any{
		"tenant_id": "t1", "image_b64": img,
	})
	if err != nil {
		t.Fatal(err)
	}
	if recResult["user_id"] != "u0" {
		t.Fatalf("expected u0, got %v", recResult["user_id"])
	}
}

func TestRejectsUndersizedImageDimensions(t *testing.T) {
	h := newHandlers()
	img := fixtureJPEG(t, 5, 5) // below minDimension of 10
	_, err := h.Dispatch(context.Background(), "face_embedding", map[string]any{"image_b64": img})
	if !apierr.Is(err, apierr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestRejectsMalformedBase64(t *testing.T) {
	h := newHandlers()
	_, err := h.Dispatch(context.Background(), "face_embedding", map[string]any{"image_b64": "not-base64!!"})
	if !apierr.Is(err, apierr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestNoFaceDetectedIsTypedError(t *testing.T) {
	h := newHandlers()
	img := fixtureJPEG(t, 20, 20)
	// Swap in a model that always reports zero detections.
	h.Model = zeroDetectModel{}
	_, err := h.Dispatch(context.Background(), "face_embedding", map[string]any{"image_b64": img})
	if !apierr.Is(err, apierr.NoFaceDetected) {
		t.Fatalf("expected NoFaceDetected, got %v", err)
	}
}

type zeroDetectModel struct{}

func (zeroDetectModel) DetectAndEmbed(ctx context.Context, imageBytes []byte) ([]facemodel.Detection, error) {
	return []facemodel.Detection{}, nil
}
func (zeroDetectModel) Dimension() int { return 32 }

func TestUnknownTaskTypeIsWorkerError(t *testing.T) {
	h := newHandlers()
	_, err := h.Dispatch(context.Background(), "not_a_real_task", map[string]any{})
	if !apierr.Is(err, apierr.WorkerError) {
		t.Fatalf("expected WorkerError, got %v", err)
	}
}

func TestHealthCheckAndCacheStats(t *testing.T) {
	h := newHandlers()
	ctx := context.Background()
	if _, err := h.Dispatch(ctx, "health_check", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	stats, err := h.Dispatch(ctx, "get_cache_stats", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if stats["worker_id"] != "w-test" {
		t.Fatalf("expected worker id in stats, got %v", stats["worker_id"])
	}
}
