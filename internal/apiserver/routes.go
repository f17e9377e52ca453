package apiserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/api/handlers"
)

// registerHandlers registers all HTTP handlers
func (s *Server) registerHandlers() {
	handlers.RegisterHandlers(
		s.router,
		s.analyzer,
		s.corpus,
		s.cfg.MaxUploadSize,
		s.logger,
		s.getTracer("sleuth.api"),
		s.withMethod,
	)

	s.registerHealthEndpoints()
	s.registerMetricsEndpoint()
	s.registerMCPHandler()
}

// registerHealthEndpoints registers health and readiness check endpoints
func (s *Server) registerHealthEndpoints() {
	s.router.HandleFunc("/health", s.withMethod(http.MethodGet, s.handleHealth))
	s.router.HandleFunc("/ready", s.withMethod(http.MethodGet, s.handleReady))
}

func (s *Server) registerMetricsEndpoint() {
	if s.gatherer == nil {
		return
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// registerMCPHandler adds the MCP endpoint to the router
func (s *Server) registerMCPHandler() {
	if s.mcpHandler == nil {
		s.logger.Debug("MCP server not configured, skipping %s endpoint", s.cfg.MCPPath)
		return
	}
	s.router.Handle(s.cfg.MCPPath, s.mcpHandler)
	s.logger.Info("MCP endpoint registered at %s", s.cfg.MCPPath)
}

// getTracer returns a tracer for the given name
func (s *Server) getTracer(name string) trace.Tracer {
	if s.tracingProvider != nil && s.tracingProvider.IsEnabled() {
		return s.tracingProvider.Tracer(name)
	}
	return otel.GetTracerProvider().Tracer(name)
}
