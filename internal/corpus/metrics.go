package corpus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks corpus size and load activity.
type Metrics struct {
	Records      prometheus.Gauge
	BatchesTotal prometheus.Counter
	LoadsTotal   *prometheus.CounterVec
}

// NewMetrics registers corpus metrics with reg. collection is attached as a
// constant label.
func NewMetrics(reg prometheus.Registerer, collection string) *Metrics {
	labels := prometheus.Labels{"collection": collection}

	records := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "sleuth_corpus_records",
		Help:        "Number of historical incidents in the corpus",
		ConstLabels: labels,
	})
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "sleuth_corpus_load_batches_total",
		Help:        "Number of record batches written to the corpus",
		ConstLabels: labels,
	})
	loads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "sleuth_corpus_loads_total",
		Help:        "Corpus load attempts by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	reg.MustRegister(records, batches, loads)

	return &Metrics{
		Records:      records,
		BatchesTotal: batches,
		LoadsTotal:   loads,
	}
}
