// Package httppost receives OneBot events over HTTP POST and sends actions
// to the backend's HTTP API.
package httppost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/events"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/transport"
)

const keepAliveInterval = 15 * time.Second

// StatusFunc contributes extra fields to /healthz.
type StatusFunc func() map[string]any

// Server is the inbound HTTP endpoint.
type Server struct {
	cfg         config.HTTPConfig
	maxBodySize int64
	hub         *events.Hub
	dedupe      *transport.Dedupe
	status      StatusFunc
	logger      *slog.Logger
	started     time.Time
	server      *http.Server
}

type Option func(*Server)

func WithStatus(fn StatusFunc) Option {
	return func(s *Server) { s.status = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server. cfg must already be validated by config.Load.
func New(cfg config.HTTPConfig, hub *events.Hub, opts ...Option) *Server {
	size, err := config.ParseSize(cfg.MaxBodySize)
	if err != nil || size <= 0 {
		size = 1 << 20
	}
	s := &Server{
		cfg:         cfg,
		maxBodySize: size,
		hub:         hub,
		dedupe:      transport.NewDedupe(cfg.DedupeSize),
		logger:      log.WithComponent("http"),
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("http transport starting", "listen", s.cfg.Listen, "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http transport shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http transport error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)
	r.Post(s.cfg.Path, s.handleEvent)

	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.maxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if s.cfg.Secret != "" {
		if err := verifySignature(body, r.Header.Get(SignatureHeader), s.cfg.Secret); err != nil {
			s.logger.Warn("event signature verification failed", "path", r.URL.Path, "error", err)
			s.respondError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	if _, err := transport.Ingest(s.hub, s.dedupe, body, s.logger); err != nil {
		s.logger.Warn("rejected event payload", "error", err)
		s.respondError(w, http.StatusBadRequest, "invalid event")
		return
	}

	// No quick operation.
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"events":         s.hub.Published(),
	}
	if s.status != nil {
		for k, v := range s.status() {
			body[k] = v
		}
	}
	s.respondJSON(w, http.StatusOK, body)
}

// handleEvents streams recent and live event records as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.hub.Watch()
	defer cancel()

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, rec := range s.hub.SnapshotSince(lastID) {
		if err := writeSSE(w, rec); err != nil {
			return
		}
		lastID = rec.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if rec.ID <= lastID {
				continue
			}
			if err := writeSSE(w, rec); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w io.Writer, rec events.Record) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", rec.ID); err != nil {
		return err
	}
	if rec.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", rec.Type); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", rec.Data)
	return err
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
