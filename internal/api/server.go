// Package api serves the valuation engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/config"
	"github.com/sells-group/valuation-engine/internal/pipeline"
)

const maxBodyBytes = 4 << 20

// Server is the HTTP API.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	pipeline *pipeline.Pipeline
	metrics  *Metrics
	now      func() time.Time
}

// New creates a Server for p listening on port.
func New(cfg config.ServerConfig, p *pipeline.Pipeline, port int) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		pipeline: p,
		metrics:  NewMetrics(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	s.setupMiddleware(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) setupMiddleware(cfg config.ServerConfig) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.router.Use(middleware.Timeout(timeout))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/valuations", s.handleValuate)
		r.Post("/dcf", s.handleDCF)
		r.Post("/dcf/{id}/activate", s.handleActivateDCF)
		r.Route("/signals", func(r chi.Router) {
			r.Post("/summary", s.handleSignalSummary)
			r.Post("/{id}/confirm", s.handleConfirmSignal)
			r.Post("/{id}/dismiss", s.handleDismissSignal)
		})
		r.Post("/simulations", s.handleSimulate)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	zap.L().Info("api: starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	zap.L().Info("api: shutting down server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
