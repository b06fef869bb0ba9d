// Package features derives behavioural features (velocity, recency and
// history length) from the transaction store when a caller omits them.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Lookback windows.
const (
	HourWindow    = time.Hour
	DayWindow     = 24 * time.Hour
	HistoryWindow = 30 * 24 * time.Hour
)

const defaultHistoryTTL = time.Minute

// Normalizer fills absent behavioural features from the user's stored
// transactions. Caller-supplied values always win.
type Normalizer struct {
	repo       domain.Repository
	cache      domain.Cache
	historyTTL time.Duration
	logger     *slog.Logger
}

// NewNormalizer creates a normalizer. cache may be nil.
func NewNormalizer(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		repo:       repo,
		cache:      cache,
		historyTTL: defaultHistoryTTL,
		logger:     logger,
	}
}

// entry is one stored transaction as kept in the history cache.
type entry struct {
	TransactionID string    `json:"id"`
	At            time.Time `json:"at"`
}

// Enrich returns a copy of f with absent velocity_1h, velocity_24h,
// time_since_last_transaction and prior-transaction count derived as of at.
// Without a user_id, or when the lookup fails, f is returned unchanged.
func (n *Normalizer) Enrich(ctx context.Context, tenantID string, f *domain.TransactionFeatures, at time.Time) *domain.TransactionFeatures {
	if f == nil || f.UserID == "" || n.repo == nil || !needsEnrichment(f) {
		return f
	}

	history, err := n.history(ctx, tenantID, f.UserID, at)
	if err != nil {
		n.logger.Warn("feature lookup failed",
			"tenant_id", tenantID,
			"user_id", f.UserID,
			"tx_id", f.TransactionID,
			"error", err,
		)
		return f
	}

	summary := summarize(history, f.TransactionID, at)

	out := *f
	if out.Velocity1h == nil {
		out.Velocity1h = domain.IntPtr(summary.lastHour)
	}
	if out.Velocity24h == nil {
		out.Velocity24h = domain.IntPtr(summary.lastDay)
	}
	if out.TimeSinceLastTransaction == nil && !summary.latest.IsZero() {
		out.TimeSinceLastTransaction = domain.FloatPtr(at.Sub(summary.latest).Seconds())
	}
	if out.PriorTransactions == 0 {
		out.PriorTransactions = summary.total
	}
	return &out
}

// Record stores the features for future lookups and drops the user's
// cached history.
func (n *Normalizer) Record(ctx context.Context, tenantID string, f *domain.TransactionFeatures, at time.Time) error {
	if n.repo == nil {
		return nil
	}
	if err := n.repo.SaveTransaction(ctx, tenantID, f, at); err != nil {
		return fmt.Errorf("failed to store transaction features: %w", err)
	}
	if n.cache != nil && f.UserID != "" {
		if err := n.cache.Delete(ctx, tenantID, historyKey(f.UserID)); err != nil {
			n.logger.Debug("history cache invalidation failed", "user_id", f.UserID, "error", err)
		}
	}
	return nil
}

func needsEnrichment(f *domain.TransactionFeatures) bool {
	return f.Velocity1h == nil || f.Velocity24h == nil || f.TimeSinceLastTransaction == nil || f.PriorTransactions == 0
}

// history returns the user's transactions from the last HistoryWindow,
// served from cache when possible.
func (n *Normalizer) history(ctx context.Context, tenantID, userID string, at time.Time) ([]entry, error) {
	key := historyKey(userID)
	if n.cache != nil {
		if b, err := n.cache.Get(ctx, tenantID, key); err == nil && b != nil {
			var cached []entry
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		}
	}

	stored, err := n.repo.GetTransactionsByUser(ctx, tenantID, userID, at.Add(-HistoryWindow))
	if err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(stored))
	for _, s := range stored {
		entries = append(entries, entry{TransactionID: s.Features.TransactionID, At: s.CreatedAt})
	}

	if n.cache != nil {
		if b, err := json.Marshal(entries); err == nil {
			_ = n.cache.Set(ctx, tenantID, key, b, n.historyTTL)
		}
	}
	return entries, nil
}

type summary struct {
	lastHour int
	lastDay  int
	total    int
	latest   time.Time
}

// summarize counts history strictly before at, ignoring earlier copies of
// the transaction being scored.
func summarize(history []entry, txID string, at time.Time) summary {
	var s summary
	for _, e := range history {
		if e.TransactionID == txID || !e.At.Before(at) || at.Sub(e.At) > HistoryWindow {
			continue
		}
		age := at.Sub(e.At)
		s.total++
		if age <= DayWindow {
			s.lastDay++
		}
		if age <= HourWindow {
			s.lastHour++
		}
		if e.At.After(s.latest) {
			s.latest = e.At
		}
	}
	return s
}

func historyKey(userID string) string {
	return "history:" + userID
}
