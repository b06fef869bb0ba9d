package features

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestNormalizer(t *testing.T) (*Normalizer, domain.Repository, *cache.LRUCache) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	return NewNormalizer(repo, lru, nil), repo, lru
}

func record(t *testing.T, n *Normalizer, tenantID, userID, txID string, at time.Time) {
	t.Helper()
	f := &domain.TransactionFeatures{
		TransactionID: txID,
		UserID:        userID,
		Amount:        10,
		MerchantName:  "Store",
		Location:      "Boston",
	}
	if err := n.Record(context.Background(), tenantID, f, at); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
}

func TestNormalizerEnrich(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("DerivesAbsentFeatures", func(t *testing.T) {
		n, _, _ := newTestNormalizer(t)
		record(t, n, tenantID, "user-1", "tx-a", now.Add(-30*time.Minute))
		record(t, n, tenantID, "user-1", "tx-b", now.Add(-5*time.Hour))
		record(t, n, tenantID, "user-1", "tx-c", now.Add(-3*24*time.Hour))
		record(t, n, tenantID, "user-2", "tx-d", now.Add(-10*time.Minute))

		f := &domain.TransactionFeatures{TransactionID: "tx-new", UserID: "user-1", Amount: 50}
		got := n.Enrich(ctx, tenantID, f, now)

		if got == f {
			t.Fatal("expected a copy, got the input pointer")
		}
		if domain.IntValue(got.Velocity1h) != 1 {
			t.Errorf("expected velocity_1h 1, got %d", domain.IntValue(got.Velocity1h))
		}
		if domain.IntValue(got.Velocity24h) != 2 {
			t.Errorf("expected velocity_24h 2, got %d", domain.IntValue(got.Velocity24h))
		}
		if got.PriorTransactions != 3 {
			t.Errorf("expected 3 prior transactions, got %d", got.PriorTransactions)
		}
		if domain.FloatValue(got.TimeSinceLastTransaction) != 1800 {
			t.Errorf("expected 1800s since last, got %v", domain.FloatValue(got.TimeSinceLastTransaction))
		}
		if f.Velocity1h != nil || f.PriorTransactions != 0 {
			t.Error("input features were modified")
		}
	})

	t.Run("CallerValuesWin", func(t *testing.T) {
		n, _, _ := newTestNormalizer(t)
		record(t, n, tenantID, "user-1", "tx-a", now.Add(-time.Minute))

		f := &domain.TransactionFeatures{
			TransactionID:            "tx-new",
			UserID:                   "user-1",
			Velocity1h:               domain.IntPtr(9),
			Velocity24h:              domain.IntPtr(20),
			TimeSinceLastTransaction: domain.FloatPtr(5),
			PriorTransactions:        40,
		}
		got := n.Enrich(ctx, tenantID, f, now)

		if got != f {
			t.Error("expected fully specified features to pass through")
		}
		if *got.Velocity1h != 9 || *got.Velocity24h != 20 || got.PriorTransactions != 40 {
			t.Errorf("caller values overwritten: %+v", got)
		}
	})

	t.Run("NoUserIDUnchanged", func(t *testing.T) {
		n, _, _ := newTestNormalizer(t)
		f := &domain.TransactionFeatures{TransactionID: "tx-new", Amount: 50}
		if got := n.Enrich(ctx, tenantID, f, now); got != f {
			t.Error("expected features without user_id to pass through")
		}
	})

	t.Run("NoHistoryLeavesRecencyAbsent", func(t *testing.T) {
		n, _, _ := newTestNormalizer(t)
		f := &domain.TransactionFeatures{TransactionID: "tx-new", UserID: "fresh"}
		got := n.Enrich(ctx, tenantID, f, now)

		if got.TimeSinceLastTransaction != nil {
			t.Error("expected recency to stay absent without history")
		}
		if domain.IntValue(got.Velocity1h) != 0 || got.Velocity24h == nil {
			t.Errorf("expected zero velocities, got %+v", got)
		}
	})

	t.Run("IgnoresSameTransactionAndFuture", func(t *testing.T) {
		n, _, _ := newTestNormalizer(t)
		record(t, n, tenantID, "user-1", "tx-new", now.Add(-time.Minute))
		record(t, n, tenantID, "user-1", "tx-later", now.Add(time.Minute))

		f := &domain.TransactionFeatures{TransactionID: "tx-new", UserID: "user-1"}
		got := n.Enrich(ctx, tenantID, f, now)

		if got.PriorTransactions != 0 || domain.IntValue(got.Velocity1h) != 0 {
			t.Errorf("expected no prior history, got %+v", got)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		n, _, _ := newTestNormalizer(t)
		record(t, n, "tenant-002", "user-1", "tx-a", now.Add(-time.Minute))

		f := &domain.TransactionFeatures{TransactionID: "tx-new", UserID: "user-1"}
		got := n.Enrich(ctx, tenantID, f, now)

		if got.PriorTransactions != 0 {
			t.Errorf("history leaked across tenants: %d", got.PriorTransactions)
		}
	})
}

func TestNormalizerRecordInvalidatesHistory(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	n, _, lru := newTestNormalizer(t)
	record(t, n, tenantID, "user-1", "tx-a", now.Add(-time.Hour*2))

	f := &domain.TransactionFeatures{TransactionID: "tx-new", UserID: "user-1"}
	if got := n.Enrich(ctx, tenantID, f, now); got.PriorTransactions != 1 {
		t.Fatalf("expected 1 prior transaction, got %d", got.PriorTransactions)
	}

	cached, _ := lru.Get(ctx, tenantID, historyKey("user-1"))
	if cached == nil {
		t.Fatal("expected history to be cached after lookup")
	}

	record(t, n, tenantID, "user-1", "tx-b", now.Add(-time.Minute))

	cached, _ = lru.Get(ctx, tenantID, historyKey("user-1"))
	if cached != nil {
		t.Error("expected Record to drop the cached history")
	}
	if got := n.Enrich(ctx, tenantID, f, now); got.PriorTransactions != 2 {
		t.Errorf("expected 2 prior transactions after record, got %d", got.PriorTransactions)
	}
}

func TestSummarize(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := []entry{
		{TransactionID: "a", At: at.Add(-HourWindow)},
		{TransactionID: "b", At: at.Add(-DayWindow)},
		{TransactionID: "c", At: at.Add(-HistoryWindow - time.Second)},
	}

	s := summarize(history, "x", at)
	if s.lastHour != 1 || s.lastDay != 2 || s.total != 2 {
		t.Errorf("unexpected summary %+v", s)
	}
	if !s.latest.Equal(at.Add(-HourWindow)) {
		t.Errorf("unexpected latest %v", s.latest)
	}
}
