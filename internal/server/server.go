// Package server implements the HTTP server for the study assistant: chat
// over SSE, document and lecture uploads with background ingestion, citation
// lookup, health and readiness probes, and Prometheus metrics.
// The server is started by the `studybuddy serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studybuddy/studybuddy-go/internal/logging"
)

// New constructs a Server from the provided collaborators and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if deps.Retriever == nil || deps.Runner == nil {
		return nil, fmt.Errorf("server: retriever and runner must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 15 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	rps := cfg.RateLimit
	if rps == 0 {
		rps = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = defaultRateBurst
	}
	rl, stopRL := newRateLimiter(rps, burst, log)

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		metrics: newServerMetrics(reg),
		pingers: cfg.Pingers,
		stopRL:  stopRL,
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not configured, authentication disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", rl.middleware(s.instrument("chat", s.handleChat)))
	mux.Handle("POST /api/documents", rl.middleware(s.instrument("document_upload", s.handleDocumentUpload)))
	mux.Handle("GET /api/documents/{id}", s.instrument("document_get", s.handleDocumentGet))
	mux.Handle("DELETE /api/documents/{id}", s.instrument("document_delete", s.handleDocumentDelete))
	mux.Handle("POST /api/lectures", rl.middleware(s.instrument("lecture_create", s.handleLectureCreate)))
	mux.Handle("GET /api/lectures/{id}", s.instrument("lecture_get", s.handleLectureGet))
	mux.Handle("DELETE /api/lectures/{id}", s.instrument("lecture_delete", s.handleLectureDelete))
	mux.Handle("GET /api/messages/{id}/sources", s.instrument("message_sources", s.handleMessageSources))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	handler := requestLogger(log, authMiddleware(cfg.APIKey, mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// backgroundContext derives a context for ingestion jobs that must outlive
// the upload request, carrying the request's logger forward. The job
// timeout is applied by the job itself.
func (s *Server) backgroundContext(r *http.Request) context.Context {
	return logging.WithLogger(context.Background(), logging.FromContext(r.Context()))
}

// cleanupContext derives a fresh short-lived context for post-failure
// cleanup: the job context may already be expired, and cleanup still has
// to run.
func (s *Server) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	fresh := logging.WithLogger(context.Background(), logging.FromContext(ctx))
	return context.WithTimeout(fresh, time.Minute)
}
