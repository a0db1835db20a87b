// Package gateway is the control plane's HTTP surface: a health probe,
// viewer enroll/track endpoints proxying into internal/controlsvc, an
// analytics query surface proxying into internal/analytics, and a
// websocket status stream broadcasting periodic snapshots of the
// recognition index's tenant and face counts. Grounded on
// _examples/zkoranges-go-claw/internal/gateway/gateway.go's plain
// net/http + coder/websocket server shape, stripped of every
// chat/agent-specific handler (OpenAI-compatible completions, A2A,
// bearer-token auth, rate limiting) since auth and rate limiting are
// explicitly out of scope here and this domain has no LLM surface to
// expose.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/facehive/facehive/internal/analytics"
	"github.com/facehive/facehive/internal/apierr"
	"github.com/facehive/facehive/internal/bus"
	"github.com/facehive/facehive/internal/controlsvc"
	"github.com/facehive/facehive/internal/recog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	viewersRegisteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facehive_viewers_registered_total",
		Help: "Total viewer registrations, labeled by outcome (new, reused, degraded).",
	}, []string{"outcome"})
	viewersTrackedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facehive_viewers_tracked_total",
		Help: "Total viewer tracking calls, labeled by match outcome (matched, unmatched).",
	}, []string{"outcome"})
)

// StatusSource reports the live state the status stream and healthz
// endpoint broadcast: the recognition index's counts. *recog.Index
// satisfies it; broker state is not part of it.
type StatusSource interface {
	Stats() recog.Stats
}

// Config wires the dependencies the gateway's handlers delegate to.
type Config struct {
	Control *controlsvc.Service
	Data    analytics.DataSource
	Status  StatusSource

	// AllowOrigins controls accepted Origin headers for the websocket
	// status stream. Empty means same-origin only.
	AllowOrigins []string

	// StatusInterval controls how often the status stream pushes a
	// snapshot to connected clients. Zero defaults to 5s.
	StatusInterval time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// Server serves the control plane's HTTP and websocket surface.
type Server struct {
	cfg    Config
	logger *slog.Logger
	events *bus.Bus

	clientsMu sync.RWMutex
	clients   map[*statusClient]struct{}
}

// New builds a Server. Call Handler to obtain the http.Handler to serve.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Server{cfg: cfg, logger: cfg.Logger, events: bus.NewWithLogger(cfg.Logger), clients: map[*statusClient]struct{}{}}
}

// Handler returns the composed HTTP handler. CORS is applied by the
// caller via NewCORSMiddleware, matching the teacher's layering of CORS
// outside the mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/status", s.handleStatusWS)
	mux.HandleFunc("/api/viewers/register", s.handleRegisterViewer)
	mux.HandleFunc("/api/viewers/track", s.handleTrackViewer)
	mux.HandleFunc("/api/analytics/summary", s.handleAnalyticsSummary)
	mux.HandleFunc("/api/analytics/daily", s.handleAnalyticsDaily)
	return mux
}

// Run starts the periodic status broadcast loop plus an event-driven
// broadcast that fires immediately on viewer registration/tracking
// instead of waiting for the next tick; callers should run it in a
// goroutine alongside http.Serve(Handler()) and cancel ctx on shutdown.
func (s *Server) Run(ctx context.Context) {
	sub := s.events.Subscribe("")
	defer s.events.Unsubscribe(sub)

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastStatus()
		case <-sub.Ch():
			s.broadcastStatus()
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"healthy": true}
	if s.cfg.Status != nil {
		stats := s.cfg.Status.Stats()
		payload["tenants"] = stats.Tenants
		payload["faces"] = stats.Faces
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

type registerRequest struct {
	TenantID string `json:"tenant_id"`
	ImageB64 string `json:"image_b64"`
}

func (s *Server) handleRegisterViewer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.InvalidInput, "malformed request body"))
		return
	}
	if req.TenantID == "" || req.ImageB64 == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "tenant_id and image_b64 are required"))
		return
	}

	result, err := s.cfg.Control.RegisterViewer(r.Context(), req.TenantID, req.ImageB64)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome := registrationOutcome(result)
	viewersRegisteredTotal.WithLabelValues(outcome).Inc()
	s.events.Publish(bus.TopicViewerRegistered, bus.ViewerRegisteredEvent{
		TenantID: result.TenantID,
		UserID:   result.UserID,
		Reused:   result.Reused,
		Status:   result.Status,
	})
	if result.Status == "degraded" {
		s.events.Publish(bus.TopicFanoutDegraded, bus.FanoutDegradedEvent{TenantID: result.TenantID, TaskType: "create_user"})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  result.TenantID,
		"user_id":    result.UserID,
		"face_id":    result.FaceID,
		"reused":     result.Reused,
		"confidence": result.Confidence,
		"status":     result.Status,
	})
}

type trackRequest struct {
	TenantID string `json:"tenant_id"`
	ImageB64 string `json:"image_b64"`
}

func (s *Server) handleTrackViewer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.InvalidInput, "malformed request body"))
		return
	}
	if req.TenantID == "" || req.ImageB64 == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "tenant_id and image_b64 are required"))
		return
	}

	result, err := s.cfg.Control.TrackViewer(r.Context(), req.TenantID, req.ImageB64)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Matched {
		viewersTrackedTotal.WithLabelValues("matched").Inc()
	} else {
		viewersTrackedTotal.WithLabelValues("unmatched").Inc()
	}
	s.events.Publish(bus.TopicViewerTracked, bus.ViewerTrackedEvent{TenantID: req.TenantID, Matched: result.Matched})
	writeJSON(w, http.StatusOK, map[string]any{
		"matched":     result.Matched,
		"user_id":     result.UserID,
		"confidence":  result.Confidence,
		"visit_count": result.VisitCount,
	})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "tenant_id query parameter is required"))
		return
	}
	period := analytics.DefaultPeriod(s.cfg.Clock(), time.UTC)
	summary, err := analytics.Summarize(r.Context(), s.cfg.Data, tenantID, period)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnalyticsDaily(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "tenant_id query parameter is required"))
		return
	}
	period := analytics.DefaultPeriod(s.cfg.Clock(), time.UTC)
	history, err := analytics.DailyHistory(r.Context(), s.cfg.Data, tenantID, period, time.UTC)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func registrationOutcome(result controlsvc.RegistrationResult) string {
	if result.Status == "degraded" {
		return "degraded"
	}
	if result.Reused {
		return "reused"
	}
	return "new"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps an apierr.Kind to an HTTP status per SPEC_FULL.md §9's
// error-handling table and writes a JSON body.
func writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.Decode(apierr.Encode(err))
	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case apierr.InvalidInput:
		status = http.StatusBadRequest
	case apierr.NotFound:
		status = http.StatusNotFound
	case apierr.NoFaceDetected:
		status = http.StatusUnprocessableEntity
	case apierr.Conflict:
		status = http.StatusConflict
	case apierr.Timeout:
		status = http.StatusGatewayTimeout
	case apierr.BusUnavailable, apierr.BusReset:
		status = http.StatusServiceUnavailable
	case apierr.WorkerError:
		status = http.StatusBadGateway
	case apierr.Internal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": apiErr.Message, "kind": string(apiErr.Kind)})
}

type statusClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *statusClient) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &statusClient{conn: conn}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	if err := c.write(r.Context(), s.statusSnapshot()); err != nil {
		return
	}

	// The stream is push-only; block until the client disconnects.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (s *Server) addClient(c *statusClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *statusClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (s *Server) statusSnapshot() map[string]any {
	snapshot := map[string]any{"time": s.cfg.Clock().UTC()}
	if s.cfg.Status != nil {
		stats := s.cfg.Status.Stats()
		snapshot["tenants"] = stats.Tenants
		snapshot["faces"] = stats.Faces
	}
	return snapshot
}

func (s *Server) broadcastStatus() {
	snapshot := s.statusSnapshot()
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if err := c.write(context.Background(), snapshot); err != nil {
			s.logger.Warn("status ws: broadcast write failed", "error", err)
		}
	}
}
