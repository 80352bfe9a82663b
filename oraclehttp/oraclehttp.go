// Package oraclehttp is the center HTTP surface (spec.md §6): health,
// alert ingestion, and analytics. Router/middleware chain and
// graceful-shutdown shape follow sentryhttp, which is itself grounded on
// CrlsMrls-dummybox/server/server.go and server/routes.go.
package oraclehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/analytics"
	"github.com/netwatch/telemetry/ingest"
)

// ServiceChecker reports whether a named external collaborator (database,
// key-value store, reasoning service, search index) is reachable, for the
// GET /health services block.
type ServiceChecker interface {
	Check(ctx context.Context) error
}

// Server is the center HTTP surface.
type Server struct {
	router *chi.Mux
	http   *http.Server

	ingest    *ingest.Ingest
	analytics *analytics.Analytics
	services  map[string]ServiceChecker
}

// New constructs a Server bound to listenAddr, wired to in for ingestion and
// an for analytics. services names the external collaborators reported in
// GET /health (e.g. "database", "key_value_store", "reasoning_service",
// "search_index").
func New(listenAddr string, in *ingest.Ingest, an *analytics.Analytics, services map[string]ServiceChecker) *Server {
	s := &Server{ingest: in, analytics: an, services: services}

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
	r.Post("/api/alerts", s.handlePostAlert)
	r.Get("/api/analytics", s.handleGetAnalytics)

	s.router = r
	s.http = &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the HTTP server until ctx is cancelled, then shuts it down with
// a 30s grace period.
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
	services := map[string]string{}
	for name, checker := range s.services {
		if err := checker.Check(r.Context()); err != nil {
			services[name] = "unavailable"
			continue
		}
		services[name] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"services":  services,
	})
}

func (s *Server) handlePostAlert(w http.ResponseWriter, r *http.Request) {
	var a alert.Alert
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}

	result, err := s.ingest.Accept(r.Context(), a)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	report, err := s.analytics.Generate(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseFilter translates time_range, alert_type, and severity query
// parameters into an analytics.Filter. time_range accepts Go duration
// syntax (e.g. "24h"); an unparseable or absent value defaults to 24h.
func parseFilter(r *http.Request) analytics.Filter {
	window := 24 * time.Hour
	if tr := r.URL.Query().Get("time_range"); tr != "" {
		if d, err := time.ParseDuration(tr); err == nil {
			window = d
		}
	}
	now := time.Now()
	f := analytics.Filter{Since: now.Add(-window), Until: now}
	if t := r.URL.Query().Get("alert_type"); t != "" {
		f.Type = alert.Type(t)
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		f.Severity = alert.Severity(sev)
	}
	return f
}
