package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/metrics"
	"github.com/lixiansky/Colorful-State/internal/monitor"
	"github.com/lixiansky/Colorful-State/internal/storage"
)

// PostLookup reports stored post status.
type PostLookup interface {
	Lookup(ctx context.Context, tweetIDs []string) (map[string]storage.Status, error)
}

// CycleReporter exposes the last finished cycle.
type CycleReporter interface {
	LastCycle() (monitor.Summary, bool)
}

// Server wires HTTP handlers to the post store and the monitor.
type Server struct {
	router chi.Router
	posts  PostLookup
	cycles CycleReporter
	logger *zap.Logger
}

type postResponse struct {
	TweetID        string    `json:"tweet_id"`
	Author         string    `json:"author"`
	ScrapedAt      time.Time `json:"scraped_at"`
	HasTranslation bool      `json:"has_translation"`
	ImageCount     int       `json:"image_count"`
	HasVideo       bool      `json:"has_video"`
}

type cycleResponse struct {
	monitor.Summary
	ElapsedMS int64 `json:"elapsed_ms"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(posts PostLookup, cycles CycleReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{posts: posts, cycles: cycles, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/posts/{tweet_id}", s.getPost)
		r.Get("/cycle", s.getCycle)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on port until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the first cycle has finished.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.cycles == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if _, ok := s.cycles.LastCycle(); !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tweet_id")
	if s.posts == nil {
		writeError(w, http.StatusServiceUnavailable, storage.ErrNotConfigured.Error())
		return
	}
	found, err := s.posts.Lookup(r.Context(), []string{id})
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("post lookup failed", zap.String("tweet_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	st, ok := found[id]
	if !ok {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, postResponse{
		TweetID:        st.TweetID,
		Author:         st.Author,
		ScrapedAt:      st.ScrapedAt,
		HasTranslation: st.HasTranslation,
		ImageCount:     st.ImageCount,
		HasVideo:       st.HasVideo,
	})
}

func (s *Server) getCycle(w http.ResponseWriter, _ *http.Request) {
	if s.cycles == nil {
		writeError(w, http.StatusNotFound, "no cycle has finished")
		return
	}
	sum, ok := s.cycles.LastCycle()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle has finished")
		return
	}
	writeJSON(w, http.StatusOK, cycleResponse{Summary: sum, ElapsedMS: sum.Elapsed().Milliseconds()})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
