// Package server exposes the sync trigger over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/natikgadzhi/notion-mirror/internal/notify"
	mirrorsync "github.com/natikgadzhi/notion-mirror/internal/sync"
)

// Syncer runs one sync of a slug, or of everything when slug is empty.
type Syncer interface {
	Sync(ctx context.Context, slug string, force bool) (*mirrorsync.Summary, error)
}

// Notifier reports failed runs.
type Notifier interface {
	Notify(f notify.Failure) <-chan struct{}
}

// Server handles trigger requests. Only one run executes at a time.
type Server struct {
	syncer   Syncer
	notifier Notifier
	token    string
	logger   *slog.Logger

	running sync.Mutex
}

// New creates a Server that accepts requests bearing token.
func New(s Syncer, n Notifier, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		syncer:   s,
		notifier: n,
		token:    token,
		logger:   logger,
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/api/sync", s.handleSync)
	})
	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	slug := strings.Trim(r.URL.Query().Get("slug"), "/")
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid force value %q", v)})
			return
		}
		force = parsed
	}

	if !s.running.TryLock() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a sync is already running"})
		return
	}
	defer s.running.Unlock()

	log := s.logger.With("slug", slug, "force", force, "request_id", middleware.GetReqID(r.Context()))
	log.Info("sync triggered")

	// A run is not cancelled mid-flight when the caller disconnects.
	sum, err := s.syncer.Sync(context.WithoutCancel(r.Context()), slug, force)
	if err != nil {
		log.Error("triggered sync failed", "error", err)
		f := notify.Failure{Error: err.Error(), Slug: slug}
		if sum != nil {
			f.RunID = sum.RunID
		}
		if s.notifier != nil {
			s.notifier.Notify(f)
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
