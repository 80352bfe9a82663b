// Package sentryhttp is the edge HTTP surface (spec.md §6): health,
// sibling-engine alert intake, and read-only observability endpoints. The
// router/middleware chain and graceful-shutdown shape are grounded on
// CrlsMrls-dummybox/server/server.go and server/routes.go.
package sentryhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/escalator"
)

// alertRing is a fixed-capacity, insertion-order ring buffer (default 1000),
// oldest dropped on overflow, backing GET /alerts?limit=N (SPEC_FULL.md §E.1).
type alertRing struct {
	mu   sync.Mutex
	cap  int
	buf  []alert.Alert
}

func newAlertRing(cap int) *alertRing {
	if cap <= 0 {
		cap = 1000
	}
	return &alertRing{cap: cap}
}

func (r *alertRing) push(a alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, a)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

func (r *alertRing) recent(limit int) []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	start := len(r.buf) - limit
	out := make([]alert.Alert, limit)
	copy(out, r.buf[start:])
	return out
}

// serviceHealth tracks the last-seen time of a sibling service for the
// discovery endpoint (SPEC_FULL.md §E.3).
type serviceHealth struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newServiceHealth() *serviceHealth {
	return &serviceHealth{lastSeen: make(map[string]time.Time)}
}

func (s *serviceHealth) touch(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[name] = time.Now()
}

const stalenessWindow = 60 * time.Second

func (s *serviceHealth) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.lastSeen))
	now := time.Now()
	for name, ts := range s.lastSeen {
		out[name] = map[string]any{
			"last_seen": ts.Format(time.RFC3339),
			"healthy":   now.Sub(ts) < stalenessWindow,
		}
	}
	return out
}

// Server is the edge HTTP surface.
type Server struct {
	router *chi.Mux
	http   *http.Server

	alerts        *alertRing
	services      *serviceHealth
	escalator     *escalator.Escalator
	suricataStats *escalator.SuricataStats

	mu            sync.Mutex
	kitnetStats   map[string]any
}

// New constructs a Server bound to listenAddr, wired to esc for Suricata
// auto-escalation.
func New(listenAddr string, esc *escalator.Escalator) *Server {
	s := &Server{
		alerts:        newAlertRing(1000),
		services:      newServiceHealth(),
		escalator:     esc,
		suricataStats: escalator.NewSuricataStats(),
	}

	r := chi.NewRouter()
	baseLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	r.Use(
		hlog.NewHandler(baseLogger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().Str("method", r.Method).Str("url", r.URL.String()).
				Int("status", status).Dur("duration", duration).Msg("request")
		}),
		middleware.RequestID,
		middleware.Recoverer,
	)

	reg := prometheus.NewRegistry()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/health", s.handleHealth)
	r.Post("/alerts", s.handlePostAlert)
	r.Get("/alerts", s.handleGetAlerts)
	r.Post("/api/v1/alerts/suricata", s.handlePostSuricata)
	r.Post("/api/kitnet-stats", s.handlePostKitnetStats)
	r.Get("/api/kitnet-stats", s.handleGetKitnetStats)
	r.Get("/api/suricata-stats", s.handleGetSuricataStats)
	r.Get("/api/zeek-notices", s.handleGetZeekNotices)
	r.Get("/api/discovery", s.handleGetDiscovery)
	r.Get("/api/local-stats", s.handleGetLocalStats)

	s.router = r
	s.http = &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Router exposes the chi.Mux for tests (httptest.NewServer(s.Router())).
func (s *Server) Router() http.Handler { return s.router }

// PushAlert makes an alert visible on GET /alerts and marks the originating
// service as having reported in. Called by cmd/sentry's detector and
// notice-monitor tasks as they produce alerts, and by this server's own
// intake handlers.
func (s *Server) PushAlert(service string, a alert.Alert) {
	s.alerts.push(a)
	s.services.touch(service)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down with
// a 30s grace period, matching the teacher-adjacent dummybox server shape.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"services":  s.services.snapshot(),
		"platform":  "sentry",
	})
}

// postedAlert is the simplified /alerts intake body from sibling services
// (spec.md §6): source, severity, event_type, description, raw_data,
// confidence.
type postedAlert struct {
	Source      string         `json:"source"`
	Severity    string         `json:"severity"`
	EventType   string         `json:"event_type"`
	Description string         `json:"description"`
	RawData     map[string]any `json:"raw_data"`
	Confidence  float64        `json:"confidence"`
}

func (s *Server) handlePostAlert(w http.ResponseWriter, r *http.Request) {
	var body postedAlert
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	a := alert.Alert{
		ID:                alert.NewID(),
		Source:            body.Source,
		Type:              alert.Type(body.EventType),
		Severity:          alert.Severity(body.Severity),
		Description:       body.Description,
		RawData:           body.RawData,
		Confidence:        body.Confidence,
		OriginalTimestamp: time.Now(),
		CreatedAt:         time.Now(),
	}
	s.PushAlert(body.Source, a)
	if s.escalator != nil {
		s.escalator.Send(r.Context(), a)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "accepted", "alert_id": a.ID})
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, s.alerts.recent(limit))
}

func (s *Server) handlePostSuricata(w http.ResponseWriter, r *http.Request) {
	var ev escalator.SuricataEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	a, mitre := escalator.FromSuricata(ev)
	s.suricataStats.Record(ev, a.Severity, mitre)
	s.PushAlert("suricata", a)
	if s.escalator != nil && escalator.IsAutoEscalate(a) {
		s.escalator.Send(r.Context(), a)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "accepted", "alert_id": a.ID, "mitre": mitre})
}

func (s *Server) handlePostKitnetStats(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	s.mu.Lock()
	s.kitnetStats = body
	s.mu.Unlock()
	s.services.touch("kitnet")
	writeJSON(w, http.StatusOK, map[string]any{"status": "stored"})
}

func (s *Server) handleGetKitnetStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stats := s.kitnetStats
	s.mu.Unlock()
	if stats == nil {
		stats = map[string]any{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSuricataStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.suricataStats.Snapshot())
}

func (s *Server) handleGetZeekNotices(w http.ResponseWriter, r *http.Request) {
	all := s.alerts.recent(0)
	notices := make([]alert.Alert, 0)
	for _, a := range all {
		if a.Source == "zeek_notice" {
			notices = append(notices, a)
		}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (s *Server) handleGetDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.snapshot())
}

func (s *Server) handleGetLocalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts_buffered":  len(s.alerts.recent(0)),
		"escalator_queued": s.escalatorQueueLen(),
		"suricata":         s.suricataStats.Snapshot(),
	})
}

func (s *Server) escalatorQueueLen() int {
	if s.escalator == nil {
		return 0
	}
	return s.escalator.QueueLen()
}
