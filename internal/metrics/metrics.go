// Package metrics owns the Prometheus collectors for merges and ingestion.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "upkeep"

const (
	ModePreview = "preview"
	ModeExecute = "execute"

	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeBusy    = "busy"
	OutcomeError   = "error"
)

// Registry bundles a private Prometheus registry with the service collectors.
type Registry struct {
	reg    *prometheus.Registry
	Merge  *Merge
	Ingest *Ingest
}

// Merge records merge runs and per-decision item counts.
type Merge struct {
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Ingest records ingested batches and items.
type Ingest struct {
	batches *prometheus.CounterVec
	items   prometheus.Counter
}

// New creates a registry with Go runtime and process collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:    reg,
		Merge:  NewMerge(reg),
		Ingest: NewIngest(reg),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func NewMerge(reg prometheus.Registerer) *Merge {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Merge{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "runs_total",
				Help:      "Merge runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		items: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "items_total",
				Help:      "Classified merge candidates by decision",
			},
			[]string{"decision"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "duration_seconds",
				Help:      "Merge run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"mode"},
		),
	}
}

// ObserveRun records one finished run. Safe on a nil receiver.
func (m *Merge) ObserveRun(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// AddItems adds n candidates to the decision bucket. Safe on a nil receiver.
func (m *Merge) AddItems(decision string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.items.WithLabelValues(decision).Add(float64(n))
}

func NewIngest(reg prometheus.Registerer) *Ingest {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Ingest{
		batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "batches_total",
				Help:      "Ingested scrape batches by outcome",
			},
			[]string{"outcome"},
		),
		items: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "items_total",
				Help:      "Content items inserted by ingestion",
			},
		),
	}
}

// ObserveBatch records one ingest attempt. Safe on a nil receiver.
func (i *Ingest) ObserveBatch(outcome string, items int) {
	if i == nil {
		return
	}
	i.batches.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && items > 0 {
		i.items.Add(float64(items))
	}
}
