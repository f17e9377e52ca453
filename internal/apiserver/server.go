package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/logging"
)

// ReadinessChecker is an interface for checking component readiness
type ReadinessChecker interface {
	IsReady() bool
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func() bool

// IsReady calls f.
func (f ReadinessFunc) IsReady() bool {
	return f()
}

// TracingProvider supplies tracers for the handlers.
type TracingProvider interface {
	Tracer(name string) trace.Tracer
	IsEnabled() bool
}

// Config holds the HTTP server settings.
type Config struct {
	Addr            string
	MCPPath         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
}

// Server handles HTTP API and MCP requests
type Server struct {
	cfg              Config
	server           *http.Server
	listener         net.Listener
	logger           *logging.Logger
	analyzer         api.IncidentAnalyzer
	corpus           api.CorpusManager
	gatherer         prometheus.Gatherer
	metrics          *httpMetrics
	router           *http.ServeMux
	readinessChecker ReadinessChecker
	tracingProvider  TracingProvider
	mcpHandler       http.Handler

	mu      sync.Mutex
	running bool
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithMCPHandler mounts handler at Config.MCPPath.
func WithMCPHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.mcpHandler = handler
	}
}

// WithReadinessChecker sets the /ready checker. Without one the server
// reports ready once started.
func WithReadinessChecker(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessChecker = checker
	}
}

// WithTracingProvider sets the tracer source for handler spans.
func WithTracingProvider(p TracingProvider) Option {
	return func(s *Server) {
		s.tracingProvider = p
	}
}

// WithMetrics serves gatherer at /metrics and records request metrics on
// registerer.
func WithMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
		s.metrics = newHTTPMetrics(registerer)
	}
}

// New creates a new API server
func New(cfg Config, analyzer api.IncidentAnalyzer, corpusManager api.CorpusManager, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MCPPath == "" {
		cfg.MCPPath = "/v1/mcp"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		logger:   logging.GetLogger("api"),
		analyzer: analyzer,
		corpus:   corpusManager,
		router:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerHandlers()

	var handler http.Handler = s.router
	if s.metrics != nil {
		handler = s.metrics.middleware(handler)
	}
	handler = s.corsMiddleware(handler)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start implements the lifecycle.Component interface.
// The listener is bound before Start returns so address errors surface here.
func (s *Server) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("API server listening on %s (MCP at %s)", ln.Addr(), s.cfg.MCPPath)
	return nil
}

// Stop implements the lifecycle.Component interface.
// Gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")

	done := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		done <- s.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("HTTP server shutdown error: %v", err)
			return err
		}
		s.logger.Info("API server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("API server shutdown timeout")
		return ctx.Err()
	}
}

// Name implements the lifecycle.Component interface
func (s *Server) Name() string {
	return "api-server"
}

// Addr returns the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// IsRunning checks if the server is serving requests
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = api.WriteSuccess(w, map[string]interface{}{
		"status": "healthy",
	})
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.IsRunning()
	if s.readinessChecker != nil {
		ready = ready && s.readinessChecker.IsReady()
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = api.WriteJSON(w, map[string]interface{}{
		"ready": ready,
	})
}
