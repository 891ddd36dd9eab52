// Package api exposes route scoring, route comparison and heatmap snapshots
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/cache"
	"github.com/sells-group/saferoute/internal/config"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
	"github.com/sells-group/saferoute/internal/scorer"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Scorer is the scoring surface the handlers call.
type Scorer interface {
	ScoreRoute(ctx context.Context, req scorer.RouteRequest) (*model.ScoredRoute, error)
	CompareRoutes(ctx context.Context, req scorer.CompareRequest) ([]model.RouteComparison, error)
	Snapshot(ctx context.Context, req scorer.SnapshotRequest) (*model.Snapshot, error)
	Config() config.ScoringConfig
}

// Server wires the handlers into a chi router.
type Server struct {
	scorer      Scorer
	snapshots   *cache.SnapshotCache
	invalidator cache.Invalidator
	cfg         config.ServerConfig
	limiter     *clientLimiter
	breaker     *resilience.CircuitBreaker
	log         *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBreaker reports the cell store's circuit state on /health.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Server) { s.breaker = cb }
}

// NewServer creates a Server. snapshots may be nil to disable caching.
// invalidator receives admin invalidations; when nil, they go to snapshots
// only.
func NewServer(cfg config.ServerConfig, sc Scorer, snapshots *cache.SnapshotCache, invalidator cache.Invalidator, opts ...Option) *Server {
	if invalidator == nil && snapshots != nil {
		invalidator = snapshots
	}
	s := &Server{
		scorer:      sc,
		snapshots:   snapshots,
		invalidator: invalidator,
		cfg:         cfg,
		log:         zap.L().With(zap.String("component", "api")),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newClientLimiter(cfg.RateLimitPerMinute)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeoutSecs > 0 {
		r.Use(requestDeadline(time.Duration(s.cfg.RequestTimeoutSecs) * time.Second))
	}

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Cache", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/routes/score", s.scoreRoute)
		r.Post("/routes/compare", s.compareRoutes)
		r.Get("/safety/snapshot", s.snapshot)
		r.Post("/admin/invalidate", s.adminInvalidate)
	})

	return r
}

// HTTPServer returns an *http.Server listening on the configured port.
func (s *Server) HTTPServer(port int) *http.Server {
	if port == 0 {
		port = s.cfg.Port
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requestDeadline bounds the request context. Unlike middleware.Timeout it
// never writes a response itself: handlers see the expired context and answer
// 504 through writeScoringError.
func requestDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
