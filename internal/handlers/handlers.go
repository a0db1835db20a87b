// Package handlers implements C5: a pure routing table mapping task_type
// to a handler function of (parameters, index, face model) -> result.
// Grounded on _examples/original_source/server/fr_worker/face_task_handler.py's
// method structure, re-expressed as Go functions returning (map[string]any,
// error) instead of raising exceptions.
package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/facemodel"
	"github.com/facehive/facehive/internal/recog"
	"github.com/facehive/facehive/internal/wire"
)

// Handlers holds the dependencies every task handler needs: the shared
// recognition index (sole writer: fan-out tasks; readers: processing
// tasks) and the FaceModel port.
type Handlers struct {
	Index     *recog.Index
	Model     facemodel.Model
	Threshold float32
	WorkerID  string
}

// Dispatch routes parameters to the handler for taskType, returning the
// result map that becomes the reply envelope's "result" field.
func (h *Handlers) Dispatch(ctx context.Context, taskType string, parameters map[string]any) (map[string]any, error) {
	switch taskType {
	case wire.TaskCreateTenant:
		return h.createTenant(parameters)
	case wire.TaskDeleteTenant:
		return h.deleteTenant(parameters)
	case wire.TaskCreateUser:
		return h.createOrAddFace(ctx, parameters)
	case wire.TaskAddFace:
		return h.createOrAddFace(ctx, parameters)
	case wire.TaskDeleteUser:
		return h.deleteUser(parameters)
	case wire.TaskDeleteFace:
		return h.deleteFace(parameters)
	case wire.TaskFaceRecognize:
		return h.faceRecognize(ctx, parameters)
	case wire.TaskFaceDetect:
		return h.faceDetect(ctx, parameters)
	case wire.TaskFaceEmbed:
		return h.faceEmbed(ctx, parameters)
	case wire.TaskGetUserFaces:
		return h.getUserFaces(parameters)
	case wire.TaskGetCacheStats:
		return h.getCacheStats()
	case wire.TaskHealthCheck:
		return h.healthCheck()
	default:
		return nil, apierr.New(apierr.WorkerError, "no handler registered for task type %s", taskType)
	}
}

func stringParam(parameters map[string]any, key string) (string, error) {
	v, ok := parameters[key]
	if !ok {
		return "", apierr.New(apierr.InvalidInput, "missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", apierr.New(apierr.InvalidInput, "field %q must be a non-empty string", key)
	}
	return s, nil
}

func (h *Handlers) createTenant(parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	h.Index.CreateTenant(tenantID)
	return map[string]any{"success": true}, nil
}

func (h *Handlers) deleteTenant(parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	h.Index.DeleteTenant(tenantID)
	return map[string]any{"success": true}, nil
}

// createOrAddFace backs both create_user and add_face: both decode an
// image, embed it, and insert a face under a user (§4.5 routing table).
func (h *Handlers) createOrAddFace(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	userID, err := stringParam(parameters, "user_id")
	if err != nil {
		return nil, err
	}
	faceID, err := stringParam(parameters, "face_id")
	if err != nil {
		return nil, err
	}
	imageB64, err := stringParam(parameters, "image_b64")
	if err != nil {
		return nil, err
	}

	embedding, _, err := h.embedBestFace(ctx, imageB64)
	if err != nil {
		return nil, err
	}

	if err := h.Index.AddFace(tenantID, userID, faceID, embedding); err != nil {
		return nil, err
	}
	return map[string]any{"embedding": float32SliceToAny(embedding)}, nil
}

func (h *Handlers) deleteUser(parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	userID, err := stringParam(parameters, "user_id")
	if err != nil {
		return nil, err
	}
	if err := h.Index.DeleteUser(tenantID, userID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (h *Handlers) deleteFace(parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	userID, err := stringParam(parameters, "user_id")
	if err != nil {
		return nil, err
	}
	faceID, err := stringParam(parameters, "face_id")
	if err != nil {
		return nil, err
	}
	if err := h.Index.DeleteFace(tenantID, userID, faceID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (h *Handlers) faceRecognize(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	imageB64, err := stringParam(parameters, "image_b64")
	if err != nil {
		return nil, err
	}

	embedding, bbox, err := h.embedBestFace(ctx, imageB64)
	if err != nil {
		return nil, err
	}

	match, err := h.Index.Recognize(tenantID, embedding, h.Threshold)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"confidence": match.Confidence}
	if match.UserID != "" {
		result["user_id"] = match.UserID
	}
	if bbox != nil {
		result["bbox"] = []int{bbox.X, bbox.Y, bbox.W, bbox.H}
	}
	return result, nil
}

func (h *Handlers) faceDetect(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	imageB64, err := stringParam(parameters, "image_b64")
	if err != nil {
		return nil, err
	}
	raw, _, _, err := decodeImage(imageB64)
	if err != nil {
		return nil, err
	}
	detections, err := h.Model.DetectAndEmbed(ctx, raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.WorkerError, err, "face model error")
	}
	bboxes := make([][]int, 0, len(detections))
	for _, d := range detections {
		if d.BBox != nil {
			bboxes = append(bboxes, []int{d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H})
		}
	}
	return map[string]any{"faces_detected": len(detections), "bboxes": bboxes}, nil
}

func (h *Handlers) faceEmbed(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	imageB64, err := stringParam(parameters, "image_b64")
	if err != nil {
		return nil, err
	}
	embedding, _, err := h.embedBestFace(ctx, imageB64)
	if err != nil {
		return nil, err
	}
	return map[string]any{"embedding": float32SliceToAny(embedding)}, nil
}

func (h *Handlers) getUserFaces(parameters map[string]any) (map[string]any, error) {
	tenantID, err := stringParam(parameters, "tenant_id")
	if err != nil {
		return nil, err
	}
	userID, err := stringParam(parameters, "user_id")
	if err != nil {
		return nil, err
	}
	faceIDs, err := h.Index.GetUserFaces(tenantID, userID)
	if err != nil {
		return nil, err
	}
	sort.Strings(faceIDs)
	return map[string]any{"face_ids": faceIDs}, nil
}

func (h *Handlers) getCacheStats() (map[string]any, error) {
	stats := h.Index.Stats()
	return map[string]any{
		"tenants":    stats.Tenants,
		"users":      stats.Users,
		"faces":      stats.Faces,
		"embeddings": stats.Embeddings,
		"worker_id":  h.WorkerID,
	}, nil
}

func (h *Handlers) healthCheck() (map[string]any, error) {
	return map[string]any{
		"status":       "healthy",
		"worker_id":    h.WorkerID,
		"timestamp_ms": time.Now().UnixMilli(),
	}, nil
}

// embedBestFace runs the image pipeline and picks the highest-scoring
// detection, per §4.5: "pick highest-score detection → emit embedding."
// Zero detections is the NoFaceDetected typed error, not an empty success.
func (h *Handlers) embedBestFace(ctx context.Context, imageB64 string) ([]float32, *facemodel.BoundingBox, error) {
	raw, _, _, err := decodeImage(imageB64)
	if err != nil {
		return nil, nil, err
	}
	detections, err := h.Model.DetectAndEmbed(ctx, raw)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.WorkerError, err, "face model error")
	}
	if len(detections) == 0 {
		return nil, nil, apierr.New(apierr.NoFaceDetected, "no face detected in image")
	}
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best.Embedding, best.BBox, nil
}

func float32SliceToAny(v []float32) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

