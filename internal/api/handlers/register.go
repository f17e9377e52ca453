package handlers

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/logging"
)

// RegisterHandlers registers all HTTP API handlers on the given router
func RegisterHandlers(
	router *http.ServeMux,
	analyzer api.IncidentAnalyzer,
	corpusManager api.CorpusManager,
	maxUploadSize int64,
	logger *logging.Logger,
	tracer trace.Tracer,
	withMethod func(string, http.HandlerFunc) http.HandlerFunc,
) {
	analyzeHandler := NewAnalyzeHandler(analyzer, logger, tracer)
	corpusHandler := NewCorpusHandler(corpusManager, maxUploadSize, logger)

	router.HandleFunc("/v1/incidents/analyze", withMethod(http.MethodPost, analyzeHandler.Handle))
	router.HandleFunc("/v1/corpus/load", withMethod(http.MethodPost, corpusHandler.HandleLoad))
	router.HandleFunc("/v1/corpus/reset", withMethod(http.MethodPost, corpusHandler.HandleReset))
	router.HandleFunc("/v1/corpus/count", withMethod(http.MethodGet, corpusHandler.HandleCount))

	logger.Info("Registered /v1/incidents and /v1/corpus endpoints")
}
