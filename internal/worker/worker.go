// Package worker scores transactions consumed from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/sink"
)

// Enricher fills absent behavioural features before scoring.
type Enricher interface {
	Enrich(ctx context.Context, tenantID string, f *domain.TransactionFeatures, at time.Time) *domain.TransactionFeatures
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus        domain.EventBus
	engine     *scoring.Engine
	enricher   Enricher
	dispatcher *sink.Dispatcher
	metrics    *metrics.Recorder
	location   *time.Location
	now        func() time.Time

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     uint64
	failed        uint64
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = every tenant)
	TenantIDs []string

	// Location is the zone used for hour-of-day features
	Location *time.Location
}

// NewWorker creates a new async worker. enricher, dispatcher and rec may be nil.
func NewWorker(bus domain.EventBus, engine *scoring.Engine, enricher Enricher, dispatcher *sink.Dispatcher, rec *metrics.Recorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		engine:     engine,
		enricher:   enricher,
		dispatcher: dispatcher,
		metrics:    rec,
		location:   time.Local,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.Location != nil {
		w.location = cfg.Location
	}

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	var errs []error
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	if len(errs) == len(tenants) {
		return errors.Join(errs...)
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

// TransactionMessage is the payload published on the ingestion topic.
type TransactionMessage struct {
	TenantID    string                   `json:"tenant_id,omitempty"`
	TraceID     string                   `json:"trace_id,omitempty"`
	Transaction *domain.TransactionInput `json:"transaction"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	err := w.process(ctx, msg)

	w.mu.Lock()
	if err != nil {
		w.failed++
	} else {
		w.processed++
	}
	w.mu.Unlock()
	return err
}

// process scores one ingested transaction and dispatches its side effects.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		w.metrics.AnalysisFailed("decode")
		return err
	}

	// The envelope tenant is authoritative; the payload may only repeat it.
	tenantID := msg.TenantID
	if txMsg.TenantID != "" && txMsg.TenantID != tenantID {
		slog.Warn("tenant mismatch in transaction message",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"payload_tenant_id", txMsg.TenantID,
		)
		w.metrics.AnalysisFailed("tenant_mismatch")
		return fmt.Errorf("payload tenant %q does not match %q", txMsg.TenantID, tenantID)
	}

	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	f, err := txMsg.Transaction.Features()
	if err != nil {
		slog.Error("rejected transaction message",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		w.metrics.AnalysisFailed("validation")
		return err
	}

	at := domain.EvaluationTime(w.now(), w.location)
	if w.enricher != nil {
		f = w.enricher.Enrich(ctx, tenantID, f, at)
	}

	slog.Debug("processing transaction",
		"tx_id", f.TransactionID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	result, err := w.engine.Analyze(ctx, f, at)
	if err != nil {
		slog.Error("analysis failed",
			"tx_id", f.TransactionID,
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		if errors.Is(err, scoring.ErrInvalidFeatures) {
			w.metrics.AnalysisFailed("validation")
		} else {
			w.metrics.AnalysisFailed("scoring")
		}
		return err
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	w.metrics.ObserveAnalysis(result, time.Since(start))

	if w.dispatcher != nil {
		w.dispatcher.Dispatch(ctx, tenantID, f, result, at)
	}

	slog.Info("transaction processed",
		"tx_id", f.TransactionID,
		"tenant_id", tenantID,
		"trace_id", traceID,
		"prediction", result.Prediction,
		"ensemble_score", result.EnsembleScore,
		"duration_ms", result.ProcessingTimeMs,
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         uint64   `json:"processed"`
	Failed            uint64   `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
