package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndListTransactions", func(t *testing.T) {
		for i, age := range []time.Duration{10 * time.Minute, 3 * time.Hour, 40 * 24 * time.Hour} {
			f := &domain.TransactionFeatures{
				TransactionID: "tx-" + string(rune('a'+i)),
				UserID:        "user-001",
				Amount:        100 * float64(i+1),
				CardPresent:   i%2 == 0,
				Location:      "Berlin",
				MerchantName:  "Shop",
				Velocity1h:    domain.IntPtr(i),
			}
			if err := repo.SaveTransaction(ctx, tenantID, f, now.Add(-age)); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		stored, err := repo.GetTransactionsByUser(ctx, tenantID, "user-001", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("GetTransactionsByUser failed: %v", err)
		}
		if len(stored) != 2 {
			t.Fatalf("expected 2 transactions in window, got %d", len(stored))
		}
		if stored[0].Features.TransactionID != "tx-a" {
			t.Errorf("expected newest first, got %s", stored[0].Features.TransactionID)
		}
		if stored[1].Features.Amount != 200 || domain.IntValue(stored[1].Features.Velocity1h) != 1 {
			t.Errorf("features not round-tripped: %+v", stored[1].Features)
		}
		if !stored[0].CreatedAt.Equal(now.Add(-10 * time.Minute)) {
			t.Errorf("unexpected created_at %v", stored[0].CreatedAt)
		}
	})

	t.Run("ResaveReplacesTransaction", func(t *testing.T) {
		f := &domain.TransactionFeatures{TransactionID: "tx-a", UserID: "user-001", Amount: 999}
		if err := repo.SaveTransaction(ctx, tenantID, f, now); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		stored, err := repo.GetTransactionsByUser(ctx, tenantID, "user-001", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(stored) != 2 || stored[0].Features.Amount != 999 {
			t.Errorf("expected replaced record, got %d rows", len(stored))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		stored, err := repo.GetTransactionsByUser(ctx, "tenant-002", "user-001", now.Add(-365*24*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(stored) != 0 {
			t.Errorf("expected no rows for other tenant, got %d", len(stored))
		}

		_, err = repo.GetEnsembleResult(ctx, "tenant-002", "tx-result")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		f := &domain.TransactionFeatures{TransactionID: "tx-test"}
		if err := repo.SaveTransaction(ctx, "", f, now); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListAlerts(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveEnsembleResult(ctx, "", &domain.ScoringResult{TransactionID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SaveAndGetEnsembleResult", func(t *testing.T) {
		result := &domain.ScoringResult{
			TransactionID:      "tx-result",
			UserID:             "user-001",
			RandomForestScore:  0.61,
			LSTMScore:          0.58,
			XGBoostScore:       0.605,
			EnsembleScore:      0.6012,
			Prediction:         domain.VerdictSuspicious,
			Confidence:         0.9876,
			RiskFactors:        []string{"Card not present transaction"},
			ModelExplanations:  map[string]string{domain.ModelLSTM: "sequence"},
			RecommendedActions: []string{"Flag for manual review"},
			Weights:            domain.EnsembleWeights{RF: 0.4, LSTM: 0.3, XGB: 0.3},
		}
		if err := repo.SaveEnsembleResult(ctx, tenantID, result); err != nil {
			t.Fatalf("SaveEnsembleResult failed: %v", err)
		}

		got, err := repo.GetEnsembleResult(ctx, tenantID, "tx-result")
		if err != nil {
			t.Fatalf("GetEnsembleResult failed: %v", err)
		}
		if got.EnsembleScore != 0.6012 || got.Prediction != domain.VerdictSuspicious {
			t.Errorf("unexpected result %+v", got)
		}
		if got.ModelExplanations[domain.ModelLSTM] != "sequence" || got.Weights.RF != 0.4 {
			t.Errorf("nested fields not round-tripped: %+v", got)
		}

		result.EnsembleScore = 0.9
		result.Prediction = domain.VerdictFraudulent
		if err := repo.SaveEnsembleResult(ctx, tenantID, result); err != nil {
			t.Fatalf("re-save failed: %v", err)
		}
		got, _ = repo.GetEnsembleResult(ctx, tenantID, "tx-result")
		if got.Prediction != domain.VerdictFraudulent {
			t.Errorf("expected upsert, got %s", got.Prediction)
		}
	})

	t.Run("SaveAnalyticsEvent", func(t *testing.T) {
		event := &domain.AnalyticsEvent{
			SessionID:        "tx-result",
			UserID:           "user-001",
			ModelType:        domain.AnalyticsModelType,
			Input:            &domain.TransactionFeatures{TransactionID: "tx-result", Amount: 10},
			Output:           &domain.ScoringResult{TransactionID: "tx-result"},
			ConfidenceScore:  0.9,
			ProcessingTimeMs: 3,
		}
		if err := repo.SaveAnalyticsEvent(ctx, tenantID, event); err != nil {
			t.Fatalf("SaveAnalyticsEvent failed: %v", err)
		}
		if event.ID == "" {
			t.Error("expected generated event id")
		}
	})

	t.Run("ModelPerformance", func(t *testing.T) {
		snapshots := []domain.ModelPerformance{
			{ModelName: "random_forest", ModelVersion: "v2.1", Accuracy: 0.947, PrecisionScore: 0.923, Recall: 0.891, F1Score: 0.907, TrainingDate: now.Add(-48 * time.Hour), IsActive: true},
			{ModelName: "xgboost_ensemble", ModelVersion: "v3.2", Accuracy: 0.956, PrecisionScore: 0.941, Recall: 0.929, F1Score: 0.935, TrainingDate: now.Add(-1 * time.Hour), IsActive: true},
			{ModelName: "retired", ModelVersion: "v0.1", TrainingDate: now, IsActive: false},
		}
		if err := repo.SaveModelPerformance(ctx, tenantID, snapshots); err != nil {
			t.Fatalf("SaveModelPerformance failed: %v", err)
		}

		list, err := repo.ListModelPerformance(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListModelPerformance failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 active snapshots, got %d", len(list))
		}
		if list[0].ModelName != "xgboost_ensemble" {
			t.Errorf("expected newest training date first, got %s", list[0].ModelName)
		}
		if list[1].F1Score != 0.907 || !list[1].IsActive {
			t.Errorf("unexpected snapshot %+v", list[1])
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		for i, sev := range []domain.Severity{domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
			alert := &domain.Alert{
				ID:            "alert-" + string(sev),
				TransactionID: "tx-" + string(sev),
				AlertType:     domain.AlertTypeFraudDetection,
				Severity:      sev,
				Title:         strings.ToUpper(string(sev)) + " Risk Transaction Detected",
				Message:       "flagged",
				Metadata:      domain.AlertMetadata{TransactionID: "tx-" + string(sev), RiskFactors: []string{"High transaction amount"}},
				CreatedAt:     now.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.SaveAlert(ctx, tenantID, alert); err != nil {
				t.Fatalf("SaveAlert failed: %v", err)
			}
		}

		alerts, err := repo.ListAlerts(ctx, tenantID, 0)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 3 {
			t.Fatalf("expected 3 alerts, got %d", len(alerts))
		}
		if alerts[0].Severity != domain.SeverityCritical {
			t.Errorf("expected newest first, got %s", alerts[0].Severity)
		}
		if alerts[0].Metadata.RiskFactors[0] != "High transaction amount" {
			t.Errorf("metadata not round-tripped: %+v", alerts[0].Metadata)
		}

		if err := repo.MarkAlertRead(ctx, tenantID, "alert-high"); err != nil {
			t.Fatalf("MarkAlertRead failed: %v", err)
		}
		if err := repo.DismissAlert(ctx, tenantID, "alert-medium"); err != nil {
			t.Fatalf("DismissAlert failed: %v", err)
		}

		alerts, _ = repo.ListAlerts(ctx, tenantID, 10)
		if len(alerts) != 2 {
			t.Fatalf("expected dismissed alert hidden, got %d alerts", len(alerts))
		}
		if !alerts[1].IsRead {
			t.Error("expected alert-high to be read")
		}

		limited, _ := repo.ListAlerts(ctx, tenantID, 1)
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}

		if err := repo.MarkAlertRead(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.DismissAlert(ctx, "tenant-002", "alert-high"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
	})

	t.Run("WatchRules", func(t *testing.T) {
		rule := &domain.WatchRule{
			ID:          "wr-1",
			Name:        "Crypto merchants",
			Description: "Remote crypto purchases",
			Expression:  `merchant_category == "Crypto" && !card_present`,
			Label:       "Remote crypto purchase",
			Enabled:     true,
		}
		if err := repo.SaveWatchRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveWatchRule failed: %v", err)
		}

		got, err := repo.GetWatchRule(ctx, tenantID, "wr-1")
		if err != nil {
			t.Fatalf("GetWatchRule failed: %v", err)
		}
		if got.Label != rule.Label || got.Expression != rule.Expression || !got.Enabled {
			t.Errorf("unexpected rule %+v", got)
		}

		rule.Enabled = false
		if err := repo.SaveWatchRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		rules, err := repo.ListWatchRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListWatchRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].Enabled {
			t.Errorf("expected one disabled rule, got %+v", rules)
		}

		if _, err := repo.GetWatchRule(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory repository: %v", err)
	}
	defer repo.Close()

	if err := repo.SaveAlert(context.Background(), "t", &domain.Alert{ID: "a1", TransactionID: "tx"}); err != nil {
		t.Errorf("SaveAlert failed: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "kestrel", PostgresPassword: "secret"})
	for _, want := range []string{"host=localhost", "port=5432", "dbname=kestrel", "sslmode=disable", "user=kestrel"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
