package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/report"
)

// MaxAnalyzeBodySize bounds the analyze request body (1 MB)
const MaxAnalyzeBodySize = 1 << 20

// AnalyzeHandler handles POST /v1/incidents/analyze
type AnalyzeHandler struct {
	analyzer api.IncidentAnalyzer
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewAnalyzeHandler creates a new analyze handler
func NewAnalyzeHandler(analyzer api.IncidentAnalyzer, logger *logging.Logger, tracer trace.Tracer) *AnalyzeHandler {
	return &AnalyzeHandler{
		analyzer: analyzer,
		logger:   logger,
		tracer:   tracer,
	}
}

// Handle decodes the request, runs the analysis and writes the result as
// JSON, or as markdown when the client asks for text/markdown.
func (h *AnalyzeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.analyze")
	defer span.End()

	var body api.AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxAnalyzeBodySize))
	if err := dec.Decode(&body); err != nil {
		apiErr := api.FromError(err)
		if apiErr.Code == api.ErrorCodeInternalError {
			apiErr = api.NewInvalidRequestError("invalid JSON body: %v", err)
		}
		api.WriteAPIError(w, apiErr)
		return
	}

	req, err := body.ToRequest()
	if err != nil {
		api.WriteAPIError(w, api.FromError(err))
		return
	}
	span.SetAttributes(attribute.Int("incident.description_length", len(req.Description)))

	start := time.Now()
	result, err := h.analyzer.Analyze(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorWithFields("Incident analysis failed",
			logging.Field("error", err),
			logging.Field("incident", logging.Snippet(req.Description, 80)))
		api.WriteAPIError(w, api.FromError(err))
		return
	}

	h.logger.InfoWithFields("Incident analyzed",
		logging.Field("request_id", result.RequestID),
		logging.Field("similar", len(result.SimilarIncidents)),
		logging.Field("duration", time.Since(start)))

	if wantsMarkdown(r) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Markdown(result)))
		return
	}
	_ = api.WriteSuccess(w, result)
}

func wantsMarkdown(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		format, err := report.ParseFormat(f)
		return err == nil && format == report.FormatMarkdown
	}
	return strings.Contains(r.Header.Get("Accept"), "text/markdown")
}
