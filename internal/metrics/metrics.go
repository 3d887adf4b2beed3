// Package metrics exposes Prometheus collectors for the retrieval pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taxbot"

// Build outcomes.
const (
	BuildSucceeded = "success"
	BuildFromCache = "cache"
	BuildFailed    = "failure"
)

// Answer outcomes.
const (
	AnswerGenerated     = "generated"
	AnswerApology       = "apology"
	AnswerNoInformation = "no_information"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	corpusChunks       prometheus.Gauge
	builds             *prometheus.CounterVec
	chunkEmbedFailures prometheus.Counter
	retrievals         *prometheus.CounterVec
	answers            *prometheus.CounterVec
}

// New creates the collectors on a fresh registry together with Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		corpusChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_chunks",
			Help:      "Number of embedded chunks in the published corpus.",
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corpus_builds_total",
			Help:      "Corpus builds by outcome.",
		}, []string{"outcome"}),
		chunkEmbedFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_embed_failures_total",
			Help:      "Chunks skipped during build because embedding failed.",
		}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrievals by mode (ranked, unranked, degraded).",
		}, []string{"mode"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Chatbot answers by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.corpusChunks, m.builds, m.chunkEmbedFailures, m.retrievals, m.answers)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetCorpusChunks(n int) {
	if m == nil {
		return
	}
	m.corpusChunks.Set(float64(n))
}

func (m *Metrics) BuildFinished(outcome string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChunkEmbedFailed() {
	if m == nil {
		return
	}
	m.chunkEmbedFailures.Inc()
}

func (m *Metrics) Retrieved(mode string) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(mode).Inc()
}

func (m *Metrics) AnswerServed(outcome string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(outcome).Inc()
}
