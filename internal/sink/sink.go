// Package sink persists scoring results and dispatches alerts after an
// analysis. Every write is best effort: failures are logged and counted
// but never change the result already produced.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Sink names used in logs and the sink-failure metric.
const (
	SinkTransaction = "transaction"
	SinkResult      = "ensemble_result"
	SinkCache       = "result_cache"
	SinkAnalytics   = "analytics"
	SinkPerformance = "model_performance"
	SinkAlert       = "alert"
	SinkPublish     = "publish"
)

// DefaultSampleRate is the chance each performance snapshot is written.
const DefaultSampleRate = 0.3

// Snapshots are the static performance figures attached per scorer.
var Snapshots = []domain.ModelPerformance{
	{ModelName: "random_forest", ModelVersion: "v2.1", Accuracy: 0.947, PrecisionScore: 0.923, Recall: 0.891, F1Score: 0.907, IsActive: true},
	{ModelName: "lstm_neural_network", ModelVersion: "v1.3", Accuracy: 0.934, PrecisionScore: 0.901, Recall: 0.945, F1Score: 0.922, IsActive: true},
	{ModelName: "xgboost_ensemble", ModelVersion: "v3.2", Accuracy: 0.956, PrecisionScore: 0.941, Recall: 0.929, F1Score: 0.935, IsActive: true},
}

// Recorder stores features for later lookups.
// *features.Normalizer satisfies it.
type Recorder interface {
	Record(ctx context.Context, tenantID string, f *domain.TransactionFeatures, at time.Time) error
}

// Dispatcher writes the side effects of one analysis.
type Dispatcher struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	recorder  Recorder
	metrics   *metrics.Recorder
	logger    *slog.Logger
	sample    func() float64
	rate      float64
	resultTTL time.Duration
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache caches results for read-back by transaction ID.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.cache = c
		d.resultTTL = ttl
	}
}

// WithBus publishes results and alerts.
func WithBus(b domain.EventBus) Option {
	return func(d *Dispatcher) { d.bus = b }
}

// WithFeatureRecorder stores each scored transaction's features.
func WithFeatureRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithMetrics counts alerts and sink failures.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSampler replaces the random source for performance snapshots.
// sample must return values in [0,1); a snapshot is written when
// sample() < rate.
func WithSampler(sample func() float64, rate float64) Option {
	return func(d *Dispatcher) {
		d.sample = sample
		d.rate = rate
	}
}

// WithSampleRate sets the chance each performance snapshot is written.
func WithSampleRate(rate float64) Option {
	return func(d *Dispatcher) { d.rate = rate }
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. repo may be nil, in which case only the
// cache and bus are written.
func New(repo domain.Repository, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:   repo,
		logger: slog.Default(),
		sample: rand.Float64,
		rate:   DefaultSampleRate,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Outcome reports what a dispatch produced.
type Outcome struct {
	Alert    *domain.Alert
	Failures []string
}

// Dispatch writes the features as of at, the result, an analytics event,
// sampled performance snapshots and, for non-legitimate verdicts, an alert.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, f *domain.TransactionFeatures, result *domain.ScoringResult, at time.Time) Outcome {
	var out Outcome
	now := d.now()

	fail := func(sink string, err error) {
		out.Failures = append(out.Failures, sink)
		d.metrics.SinkFailed(sink)
		d.logger.Error("sink write failed",
			"sink", sink,
			"tenant_id", tenantID,
			"tx_id", result.TransactionID,
			"error", err,
		)
	}

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, tenantID, f, at); err != nil {
			fail(SinkTransaction, err)
		}
	}

	if d.repo != nil {
		if err := d.repo.SaveEnsembleResult(ctx, tenantID, result); err != nil {
			fail(SinkResult, err)
		}

		event := &domain.AnalyticsEvent{
			ID:               uuid.New().String(),
			TenantID:         tenantID,
			UserID:           f.UserID,
			SessionID:        f.TransactionID,
			ModelType:        domain.AnalyticsModelType,
			Input:            f,
			Output:           result,
			ConfidenceScore:  result.Confidence,
			ProcessingTimeMs: result.ProcessingTimeMs,
			CreatedAt:        now,
		}
		if err := d.repo.SaveAnalyticsEvent(ctx, tenantID, event); err != nil {
			fail(SinkAnalytics, err)
		}

		if sampled := d.sampleSnapshots(now); len(sampled) > 0 {
			if err := d.repo.SaveModelPerformance(ctx, tenantID, sampled); err != nil {
				fail(SinkPerformance, err)
			}
		}
	}

	if d.cache != nil {
		if err := d.cache.SetResult(ctx, tenantID, result.TransactionID, result, d.resultTTL); err != nil {
			fail(SinkCache, err)
		}
	}

	if decision.ShouldAlert(result) {
		alert := decision.BuildAlert(tenantID, result, now)
		out.Alert = alert
		d.metrics.AlertRaised(alert.Severity)
		d.logger.Warn("alert raised",
			"tenant_id", tenantID,
			"tx_id", result.TransactionID,
			"severity", alert.Severity,
			"ensemble_score", result.EnsembleScore,
		)

		if d.repo != nil {
			if err := d.repo.SaveAlert(ctx, tenantID, alert); err != nil {
				fail(SinkAlert, err)
			}
		}
		if err := d.publish(ctx, tenantID, domain.TopicAlert, alert); err != nil {
			fail(SinkPublish, err)
		}
	}

	if err := d.publish(ctx, tenantID, domain.TopicResult, result); err != nil {
		fail(SinkPublish, err)
	}

	return out
}

func (d *Dispatcher) sampleSnapshots(now time.Time) []domain.ModelPerformance {
	var out []domain.ModelPerformance
	for _, s := range Snapshots {
		if d.sample() < d.rate {
			s.TrainingDate = now
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) publish(ctx context.Context, tenantID, topic string, v any) error {
	if d.bus == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.bus.Publish(ctx, tenantID, topic, payload)
}
