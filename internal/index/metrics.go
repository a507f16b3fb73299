package index

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the indexing collectors. A nil *Metrics records nothing.
type Metrics struct {
	rebuildDuration *prometheus.HistogramVec
	pages           *prometheus.CounterVec
	documents       *prometheus.CounterVec
	fieldFailures   *prometheus.CounterVec
	cacheSize       *prometheus.GaugeVec
}

// NewMetrics creates the indexing collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rebuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "search_index_rebuild_duration_seconds",
			Help:    "Duration of full index rebuilds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"namespace", "outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_index_pages_total",
			Help: "Number of catalog pages indexed",
		}, []string{"namespace"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_index_documents_total",
			Help: "Number of documents submitted to the search backend",
		}, []string{"namespace"}),
		fieldFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_index_field_failures_total",
			Help: "Number of field values skipped because they could not be resolved",
		}, []string{"kind"}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "search_index_structure_cache_bytes",
			Help: "Approximate size of the catalog structure cache at release",
		}, []string{"namespace"}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{m.rebuildDuration, m.pages, m.documents, m.fieldFailures, m.cacheSize} {
		errs = append(errs, reg.Register(c))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeRebuild(namespace string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.rebuildDuration.WithLabelValues(namespace, outcome).Observe(d.Seconds())
}

func (m *Metrics) page(namespace string, docs int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(namespace).Inc()
	m.documents.WithLabelValues(namespace).Add(float64(docs))
}

func (m *Metrics) fieldFailure(kind string) {
	if m == nil {
		return
	}
	m.fieldFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) cacheReleased(namespace string, size int) {
	if m == nil {
		return
	}
	m.cacheSize.WithLabelValues(namespace).Set(float64(size))
}
