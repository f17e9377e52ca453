package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the analysis pipeline.
type Metrics struct {
	AnalysesTotal      *prometheus.CounterVec // Analyses by outcome (ok, error)
	Duration           prometheus.Histogram   // End-to-end analysis latency
	JudgmentsParsed    prometheus.Counter     // Complete judgments read from model output
	JudgmentsDropped   prometheus.Counter     // Judgments discarded for missing fields
	RootCauseFallbacks *prometheus.CounterVec // Failure sentinels returned, by reason
	SimilarReturned    prometheus.Histogram   // Similar incidents per result
}

// NewMetrics creates and registers analysis metrics. The registerer allows
// tests to pass their own registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	analyses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleuth_analyses_total",
		Help: "Total number of incident analyses by outcome",
	}, []string{"outcome"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleuth_analysis_duration_seconds",
		Help:    "Time spent analyzing one incident",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	parsed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleuth_judgments_parsed_total",
		Help: "Total number of complete similarity judgments parsed",
	})

	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleuth_judgments_dropped_total",
		Help: "Total number of similarity judgments dropped for missing fields",
	})

	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleuth_root_cause_fallbacks_total",
		Help: "Total number of root-cause analyses replaced by the failure result",
	}, []string{"reason"})

	similar := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleuth_similar_incidents_returned",
		Help:    "Number of similar incidents returned per analysis",
		Buckets: []float64{0, 1, 2, 3, 5, 10},
	})

	reg.MustRegister(analyses, duration, parsed, dropped, fallbacks, similar)

	return &Metrics{
		AnalysesTotal:      analyses,
		Duration:           duration,
		JudgmentsParsed:    parsed,
		JudgmentsDropped:   dropped,
		RootCauseFallbacks: fallbacks,
		SimilarReturned:    similar,
	}
}
