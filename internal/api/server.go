// Package api exposes the HTTP interface for the staffwatch service.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ytakeda/staffwatch/internal/aggregate"
	"github.com/ytakeda/staffwatch/internal/cache"
	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/orchestrator"
	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Crawler is the slice of the orchestrator the API needs.
type Crawler interface {
	TriggerNow(ctx context.Context) error
	Status() orchestrator.Status
}

// Server wires HTTP handlers to the aggregation engine and the registry.
type Server struct {
	router  chi.Router
	engine  *aggregate.Engine
	cache   *cache.Cache
	store   staffing.Store
	crawler Crawler
	clock   staffing.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	engine *aggregate.Engine,
	resultCache *cache.Cache,
	store staffing.Store,
	crawler Crawler,
	clock staffing.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		cache:   resultCache,
		store:   store,
		crawler: crawler,
		clock:   clock,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/stores", func(r chi.Router) {
			r.Get("/current", s.getCurrent)
			r.Get("/history", s.getHistory)
			r.Get("/names", s.getNames)
		})
		r.Route("/analysis", func(r chi.Router) {
			r.Get("/hourly", s.getHourly)
			r.Get("/area", s.getAreaStats)
			r.Get("/daily", s.getDaily)
		})
		r.Route("/ranking", func(r chi.Router) {
			r.Get("/genre", s.getGenreRanking)
			r.Get("/popular", s.getPopularRanking)
		})
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/trigger", s.triggerCrawl)
			r.Get("/status", s.getCrawlStatus)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.addSource)
			r.Post("/bulk", s.addSourcesBulk)
			r.Put("/{source_id}", s.updateSource)
			r.Delete("/{source_id}", s.removeSource)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a cheap read proves it.
	if _, err := s.store.SourceNames(r.Context()); err != nil {
		writeJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
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
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeJSON(s.logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
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

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
