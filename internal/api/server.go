package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
	"github.com/JakeFAU/sold-listings-crawler/internal/metrics"
)

const (
	requestTimeout    = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// DayStore exposes the artifact state the server reports on.
// artifact.Store satisfies it.
type DayStore interface {
	Root() string
	Days() ([]string, error)
	QuarantineFiles(day string) ([]string, error)
	Completed(day string) (bool, error)
	DayLocked(day string) (bool, error)
	CollatedPath(day string) string
}

// PageLister lists a day's page artifacts. collate.Collator satisfies it.
type PageLister interface {
	PageFiles(day string) ([]string, error)
}

// RunStatus is the JSON body of GET /v1/runs/{day}.
type RunStatus struct {
	Day         string `json:"day"`
	Pages       int    `json:"pages"`
	Quarantined int    `json:"quarantined"`
	Collated    bool   `json:"collated"`
	Completed   bool   `json:"completed"`
	Locked      bool   `json:"locked"`
}

// Server wires HTTP handlers to the artifact store.
type Server struct {
	router   chi.Router
	store    DayStore
	pages    PageLister
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. HTTP metrics are
// registered on reg, which is also what /metrics serves.
func NewServer(store DayStore, pages PageLister, reg *prometheus.Registry, logger *zap.Logger) (*Server, error) {
	if store == nil || pages == nil {
		return nil, errors.New("day store and page lister are required")
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpMetrics, err := metrics.NewHTTP(reg)
	if err != nil {
		return nil, err
	}
	s := &Server{store: store, pages: pages, gatherer: reg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(httpMetrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{day}", s.getRun)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status server: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := os.Stat(s.store.Root()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "artifact root unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	days, err := s.store.Days()
	if err != nil {
		s.logger.Error("list days failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if days == nil {
		days = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse(listing.DayLayout, day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYYMMDD")
		return
	}
	status, err := s.runStatus(day)
	if err != nil {
		s.logger.Error("run status failed", zap.String("day", day), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read run status")
		return
	}
	if status.Pages == 0 && status.Quarantined == 0 && !status.Locked && !status.Completed {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) runStatus(day string) (RunStatus, error) {
	status := RunStatus{Day: day}
	pages, err := s.pages.PageFiles(day)
	if err != nil {
		return status, err
	}
	status.Pages = len(pages)
	quarantined, err := s.store.QuarantineFiles(day)
	if err != nil {
		return status, err
	}
	status.Quarantined = len(quarantined)
	if status.Completed, err = s.store.Completed(day); err != nil {
		return status, err
	}
	if status.Locked, err = s.store.DayLocked(day); err != nil {
		return status, err
	}
	_, err = os.Stat(s.store.CollatedPath(day))
	status.Collated = err == nil
	return status, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
