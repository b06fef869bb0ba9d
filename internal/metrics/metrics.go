// Package metrics exposes Kestrel's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder records scoring, alerting and sink outcomes.
// Each Recorder owns its registry so several can coexist in one process.
type Recorder struct {
	registry     *prometheus.Registry
	analyses     *prometheus.CounterVec
	failures     *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
	latency      prometheus.Histogram
	score        prometheus.Histogram
}

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_analyses_total",
				Help: "Completed analyses by verdict",
			},
			[]string{"verdict"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_analysis_failures_total",
				Help: "Analyses rejected or failed, by reason",
			},
			[]string{"reason"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_alerts_total",
				Help: "Alerts raised by severity",
			},
			[]string{"severity"},
		),
		sinkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_sink_failures_total",
				Help: "Best-effort sink writes that failed, by sink",
			},
			[]string{"sink"},
		),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_analysis_duration_seconds",
			Help:    "Time spent scoring a transaction",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		score: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_ensemble_score",
			Help:    "Distribution of ensemble scores",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
	}
}

// ObserveAnalysis records one completed analysis.
func (r *Recorder) ObserveAnalysis(result *domain.ScoringResult, took time.Duration) {
	if r == nil || result == nil {
		return
	}
	r.analyses.WithLabelValues(string(result.Prediction)).Inc()
	r.latency.Observe(took.Seconds())
	r.score.Observe(result.EnsembleScore)
}

// AnalysisFailed records an analysis that produced no result.
func (r *Recorder) AnalysisFailed(reason string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(reason).Inc()
}

// AlertRaised records an alert of the given severity.
func (r *Recorder) AlertRaised(severity domain.Severity) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(string(severity)).Inc()
}

// SinkFailed records a failed best-effort write.
func (r *Recorder) SinkFailed(sink string) {
	if r == nil {
		return
	}
	r.sinkFailures.WithLabelValues(sink).Inc()
}

// RegisterGauge exposes a value sampled at scrape time, such as the
// local cache size.
func (r *Recorder) RegisterGauge(name, help string, fn func() float64) {
	if r == nil {
		return
	}
	promauto.With(r.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// RegisterCounter exposes a monotonically increasing value sampled at
// scrape time, such as the event bus drop count. fn must never decrease.
func (r *Recorder) RegisterCounter(name, help string, fn func() float64) {
	if r == nil {
		return
	}
	promauto.With(r.registry).NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn)
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
