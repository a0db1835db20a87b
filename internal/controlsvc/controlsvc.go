// Package controlsvc composes the control plane's C2 producer and store
// port into the two operations HTTP clients actually want: register a
// viewer (recognize-first enrollment) and track a viewer (recognize plus
// visit counter upsert). Grounded on
// _examples/original_source/server/backend/src/service/advertise_service.py's
// register_viewer/track_viewer, translated from direct DB+inline-recognizer
// calls into C2 RPC calls against the worker fleet.
package controlsvc

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/blob"
	"github.com/facehive/facehive/internal/rpc"
	"github.com/facehive/facehive/internal/store"
	"github.com/facehive/facehive/internal/wire"
	"github.com/google/uuid"
)

// Config controls fan-out reply collection for mutation tasks issued by
// this package.
type Config struct {
	FanoutWorkerCount int
	FanoutWindow      time.Duration
}

// Service composes a producer, a store, and a blob store into viewer
// registration and tracking operations.
type Service struct {
	producer *rpc.Producer
	store    store.Store
	blob     blob.Store
	cfg      Config
	logger   *slog.Logger
}

// New builds a Service. blob may be nil, in which case new enrollments
// persist an empty image_ref (acceptable for deployments that only care
// about the worker fleet's in-memory index, not replayable enrollment
// images). logger may be nil, in which case slog.Default is used.
func New(producer *rpc.Producer, st store.Store, bs blob.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{producer: producer, store: st, blob: bs, cfg: cfg, logger: logger}
}

// RegistrationResult reports how RegisterViewer resolved an enrollment.
type RegistrationResult struct {
	TenantID   string
	UserID     string
	FaceID     string
	Reused     bool // true if an existing user was matched rather than created
	Confidence float32
	Status     string // "ok" or "degraded"
}

// RegisterViewer recognizes the face in imageB64 against tenantID's
// enrolled faces; on a match it reuses the matched user, otherwise it
// mints a new user_id/face_id and enrolls the image. In both cases a
// viewing session is recorded and the visit counter upserted, matching
// register_viewer's always-create-a-session behavior.
func (s *Service) RegisterViewer(ctx context.Context, tenantID, imageB64 string) (RegistrationResult, error) {
	recognizeReply, err := s.producer.Call(ctx, wire.ExchangeFaceTasks, wire.TaskFaceRecognize, wire.TaskFaceRecognize, map[string]any{
		"tenant_id": tenantID,
		"image_b64": imageB64,
	})
	if err != nil {
		return RegistrationResult{}, err
	}

	if userID, ok := recognizeReply.Result["user_id"].(string); ok && userID != "" {
		result := RegistrationResult{
			TenantID:   tenantID,
			UserID:     userID,
			Reused:     true,
			Confidence: confidenceOf(recognizeReply.Result),
			Status:     "ok",
		}
		if err := s.recordVisit(ctx, tenantID, userID); err != nil {
			return result, err
		}
		return result, nil
	}

	userID := "viewer_" + uuid.NewString()
	faceID := uuid.NewString()

	if err := s.persistEnrollment(ctx, tenantID, userID, faceID, imageB64); err != nil {
		return RegistrationResult{}, err
	}

	status, err := s.createUserFanout(ctx, tenantID, userID, faceID, imageB64)
	if err != nil {
		return RegistrationResult{}, err
	}

	result := RegistrationResult{
		TenantID:   tenantID,
		UserID:     userID,
		FaceID:     faceID,
		Reused:     false,
		Confidence: confidenceOf(recognizeReply.Result),
		Status:     status,
	}
	if err := s.recordVisit(ctx, tenantID, userID); err != nil {
		return result, err
	}
	return result, nil
}

// TrackingResult reports the outcome of TrackViewer.
type TrackingResult struct {
	Matched    bool
	UserID     string
	Confidence float32
	VisitCount int
}

// TrackViewer recognizes the face in imageB64 and, on a match, upserts the
// matched user's visit counter atomically with a new viewing session.
// Unmatched faces are not enrolled — track_viewer only observes existing
// viewers.
func (s *Service) TrackViewer(ctx context.Context, tenantID, imageB64 string) (TrackingResult, error) {
	reply, err := s.producer.Call(ctx, wire.ExchangeFaceTasks, wire.TaskFaceRecognize, wire.TaskFaceRecognize, map[string]any{
		"tenant_id": tenantID,
		"image_b64": imageB64,
	})
	if err != nil {
		return TrackingResult{}, err
	}

	userID, ok := reply.Result["user_id"].(string)
	if !ok || userID == "" {
		return TrackingResult{Matched: false, Confidence: confidenceOf(reply.Result)}, nil
	}

	counter, err := s.store.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: tenantID,
		UserID:   userID,
		StartTS:  time.Now().UTC(),
	})
	if err != nil {
		return TrackingResult{}, apierr.Wrap(apierr.Internal, err, "upsert visit counter")
	}

	return TrackingResult{
		Matched:    true,
		UserID:     userID,
		Confidence: confidenceOf(reply.Result),
		VisitCount: counter.VisitCount,
	}, nil
}

// persistEnrollment writes the new user/face row to the authoritative
// store before the fan-out mutation is published, so a crash between the
// store write and the fan-out leaves the store (not the in-memory index)
// as the thing a restarted worker fleet reloads from.
func (s *Service) persistEnrollment(ctx context.Context, tenantID, userID, faceID, imageB64 string) error {
	imageRef := ""
	if s.blob != nil {
		raw, err := base64.StdEncoding.DecodeString(imageB64)
		if err != nil {
			return apierr.New(apierr.InvalidInput, "image_b64 is not valid base64")
		}
		ref, err := s.blob.Put(ctx, tenantID, faceID, raw)
		if err != nil {
			return apierr.Wrap(apierr.Internal, err, "store enrollment image")
		}
		imageRef = ref
	}

	if err := s.store.CreateUser(ctx, tenantID, userID); err != nil {
		return apierr.Wrap(apierr.Internal, err, "create user record")
	}
	if err := s.store.CreateFace(ctx, tenantID, userID, faceID, imageRef); err != nil {
		return err
	}
	return nil
}

// createUserFanout issues the create_user mutation across the worker
// fleet (create_user and add_face share one handler and parameter shape,
// so a single call both creates the user and enrolls the face), returning
// "degraded" when worker replies disagree — the store stays authoritative
// and the next snapshot reload heals the divergence, but the caller is
// told the in-memory fleet is inconsistent in the meantime.
func (s *Service) createUserFanout(ctx context.Context, tenantID, userID, faceID, imageB64 string) (string, error) {
	replies, err := s.producer.CallFanout(ctx, wire.ExchangeCacheUpdates, "", wire.TaskCreateUser, map[string]any{
		"tenant_id": tenantID,
		"user_id":   userID,
		"face_id":   faceID,
		"image_b64": imageB64,
	}, s.cfg.FanoutWorkerCount, s.fanoutWindow())
	if err != nil {
		return "", err
	}
	return s.evaluateFanout(wire.TaskCreateUser, replies), nil
}

func (s *Service) evaluateFanout(taskType string, replies []wire.Reply) string {
	succeeded, failed := 0, 0
	for _, r := range replies {
		if r.Status == wire.StatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	if succeeded > 0 && failed > 0 {
		s.logger.Warn("degraded_fanout",
			"task_type", taskType,
			"succeeded", succeeded,
			"failed", failed,
		)
		return "degraded"
	}
	return "ok"
}

func (s *Service) recordVisit(ctx context.Context, tenantID, userID string) error {
	_, err := s.store.InsertViewingSessionAndUpsertCounter(ctx, store.ViewingSession{
		TenantID: tenantID,
		UserID:   userID,
		StartTS:  time.Now().UTC(),
	})
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "record viewing session")
	}
	return nil
}

func (s *Service) fanoutWindow() time.Duration {
	if s.cfg.FanoutWindow > 0 {
		return s.cfg.FanoutWindow
	}
	return 5 * time.Second
}

func confidenceOf(result map[string]any) float32 {
	switch v := result["confidence"].(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	default:
		return 0
	}
}
