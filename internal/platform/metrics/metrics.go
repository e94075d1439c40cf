// Package metrics holds the Prometheus collectors for the lab service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labreport"

// Metrics records lifecycle counters. The zero value is not usable; build
// one with New.
type Metrics struct {
	registry         *prometheus.Registry
	groupsCreated    prometheus.Counter
	reportsPublished *prometheus.CounterVec
	augmentations    *prometheus.CounterVec
	augmentDuration  prometheus.Histogram
	txConflicts      prometheus.Counter
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		groupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_created_total",
			Help:      "Test groups created.",
		}),
		reportsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_published_total",
			Help:      "Reports synthesized from published test groups, by report status.",
		}, []string{"status"}),
		augmentations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "augmentations_total",
			Help:      "Narrative augmentation attempts, by outcome (parsed, fallback, failed).",
		}, []string{"outcome"}),
		augmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "augmentation_duration_seconds",
			Help:      "Latency of the narrative generation call.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		txConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_conflicts_total",
			Help:      "Transaction attempts aborted by serialization or identifier conflicts.",
		}),
	}
	m.registry.MustRegister(
		m.groupsCreated,
		m.reportsPublished,
		m.augmentations,
		m.augmentDuration,
		m.txConflicts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) GroupsCreated(n int) { m.groupsCreated.Add(float64(n)) }

func (m *Metrics) ReportPublished(status string) { m.reportsPublished.WithLabelValues(status).Inc() }

func (m *Metrics) Augmented(outcome string, elapsed time.Duration) {
	m.augmentations.WithLabelValues(outcome).Inc()
	m.augmentDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) TxConflict() { m.txConflicts.Inc() }

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
