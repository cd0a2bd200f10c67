// Package metrics records pipeline metrics to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder abstracts metric recording so tests can inject a fake.
type Recorder interface {
	// RecordSummary counts a finished summarization by terminal outcome
	// (passthrough, combined, compressed, fallback).
	RecordSummary(outcome string, duration time.Duration)

	// RecordChunk counts one per-chunk summarization attempt.
	RecordChunk(success bool)

	// RecordEntityFailure counts an entity extraction failure.
	RecordEntityFailure()

	// RecordCache counts analysis cache lookups.
	RecordCache(hit bool)
}

// Prometheus implements Recorder with collectors registered on the default registry.
type Prometheus struct {
	summaries       *prometheus.CounterVec
	summaryDuration prometheus.Histogram
	chunks          *prometheus.CounterVec
	entityFailures  prometheus.Counter
	cache           *prometheus.CounterVec
}

var (
	promInstance *Prometheus
	promOnce     sync.Once
)

// NewPrometheus returns the process-wide Prometheus recorder, registering its collectors on first use.
func NewPrometheus() *Prometheus {
	promOnce.Do(func() {
		promInstance = newPrometheus(prometheus.DefaultRegisterer)
	})
	return promInstance
}

func newPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_summaries_total",
			Help: "Summaries produced, by terminal outcome",
		}, []string{"outcome"}),
		summaryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_summarization_duration_seconds",
			Help:    "Time spent producing a report summary, including every chunk and the second pass",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_chunk_summaries_total",
			Help: "Per-chunk summarization attempts, by result",
		}, []string{"result"}),
		entityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_entity_extraction_failures_total",
			Help: "Entity extraction calls that failed",
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_analysis_cache_lookups_total",
			Help: "Analysis cache lookups, by result",
		}, []string{"result"}),
	}

	p.summaries = register(reg, p.summaries)
	p.summaryDuration = register(reg, p.summaryDuration)
	p.chunks = register(reg, p.chunks)
	p.entityFailures = register(reg, p.entityFailures)
	p.cache = register(reg, p.cache)

	return p
}

// register returns the already registered collector when one with the same descriptor exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (p *Prometheus) RecordSummary(outcome string, duration time.Duration) {
	p.summaries.WithLabelValues(outcome).Inc()
	p.summaryDuration.Observe(duration.Seconds())
}

func (p *Prometheus) RecordChunk(success bool) {
	p.chunks.WithLabelValues(resultLabel(success, "success", "failure")).Inc()
}

func (p *Prometheus) RecordEntityFailure() {
	p.entityFailures.Inc()
}

func (p *Prometheus) RecordCache(hit bool) {
	p.cache.WithLabelValues(resultLabel(hit, "hit", "miss")).Inc()
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) RecordSummary(string, time.Duration) {}
func (Nop) RecordChunk(bool)                    {}
func (Nop) RecordEntityFailure()                {}
func (Nop) RecordCache(bool)                    {}
