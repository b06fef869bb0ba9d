package decision

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	noon  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	night = time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
)

type staticLabeler []string

func (s staticLabeler) Labels(*domain.TransactionFeatures, time.Time) []string { return s }

func quietFeatures() *domain.TransactionFeatures {
	return &domain.TransactionFeatures{
		TransactionID: "tx-1",
		Amount:        25,
		CardPresent:   true,
		Location:      "Austin, TX",
		MerchantName:  "Coffee Bar",
	}
}

func TestVerdictFor(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Verdict
	}{
		{0, domain.VerdictLegitimate},
		{0.5, domain.VerdictLegitimate},
		{0.5000001, domain.VerdictSuspicious},
		{0.8, domain.VerdictSuspicious},
		{0.8000001, domain.VerdictFraudulent},
		{1, domain.VerdictFraudulent},
	}

	for _, tt := range tests {
		if got := VerdictFor(tt.score); got != tt.want {
			t.Errorf("VerdictFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRiskFactors(t *testing.T) {
	t.Run("QuietTransaction", func(t *testing.T) {
		factors := RiskFactors(quietFeatures(), domain.ScoreSet{}, noon)
		if len(factors) != 0 {
			t.Errorf("expected no factors, got %v", factors)
		}
	})

	t.Run("AllFactorsInOrder", func(t *testing.T) {
		f := &domain.TransactionFeatures{
			TransactionID:    "tx-2",
			Amount:           9000,
			CardPresent:      false,
			Velocity24h:      domain.IntPtr(4),
			Velocity1h:       domain.IntPtr(3),
			Location:         "Unknown",
			MerchantCategory: "Cash Advance",
		}
		scores := domain.ScoreSet{RandomForest: 0.61, LSTM: 0.7, XGBoost: 0.9}

		want := []string{
			"High transaction amount",
			"Card not present transaction",
			"High transaction velocity",
			"Rapid successive transactions",
			"Unusual transaction time",
			"High-risk location",
			"Random Forest flagged anomalous patterns",
			"LSTM detected sequential anomalies",
			"XGBoost identified complex risk patterns",
			"High-risk merchant category",
		}
		if got := RiskFactors(f, scores, night); !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("ThresholdsAreExclusive", func(t *testing.T) {
		f := quietFeatures()
		f.Amount = 5000
		f.Velocity24h = domain.IntPtr(3)
		f.Velocity1h = domain.IntPtr(2)
		scores := domain.ScoreSet{RandomForest: 0.6, LSTM: 0.6, XGBoost: 0.6}
		if got := RiskFactors(f, scores, noon); len(got) != 0 {
			t.Errorf("expected no factors at the thresholds, got %v", got)
		}
	})

	t.Run("LocationMatchIsCaseSensitive", func(t *testing.T) {
		f := quietFeatures()
		f.Location = "Foreign Exchange Plaza"
		if got := RiskFactors(f, domain.ScoreSet{}, noon); len(got) != 0 {
			t.Errorf("expected no factors, got %v", got)
		}
	})
}

func TestExplanations(t *testing.T) {
	scores := domain.ScoreSet{RandomForest: 0.4567, LSTM: 0.1234, XGBoost: 0.9}
	w := domain.EnsembleWeights{RF: 0.35, LSTM: 0.25, XGB: 0.4}

	got := Explanations(scores, w)
	if len(got) != 3 {
		t.Fatalf("expected 3 explanations, got %d", len(got))
	}

	want := map[string]string{
		domain.ModelRandomForest: "Decision trees identified 45.7% risk based on transaction rules and patterns (weight: 35.0%)",
		domain.ModelLSTM:         "Sequential analysis detected 12.3% risk in transaction timing and behavioral patterns (weight: 25.0%)",
		domain.ModelXGBoost:      "Gradient boosting found 90.0% risk through complex feature interactions (weight: 40.0%)",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestActions(t *testing.T) {
	tests := []struct {
		name    string
		verdict domain.Verdict
		score   float64
		count   int
		last    string
	}{
		{"Fraudulent", domain.VerdictFraudulent, 0.9, 5, "Contact customer via verified phone number"},
		{"SuspiciousLow", domain.VerdictSuspicious, 0.6, 4, "Flag for manual review"},
		{"SuspiciousHigh", domain.VerdictSuspicious, 0.75, 5, "Consider temporary transaction limits"},
		{"LegitimateQuiet", domain.VerdictLegitimate, 0.2, 2, "Continue normal monitoring"},
		{"LegitimateWatch", domain.VerdictLegitimate, 0.35, 3, "Log for pattern analysis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Actions(tt.verdict, tt.score)
			if len(got) != tt.count {
				t.Fatalf("expected %d actions, got %v", tt.count, got)
			}
			if got[len(got)-1] != tt.last {
				t.Errorf("expected last action %q, got %q", tt.last, got[len(got)-1])
			}
		})
	}
}

func TestDecide(t *testing.T) {
	f := quietFeatures()
	f.CardPresent = false
	scores := domain.ScoreSet{RandomForest: 0.7, LSTM: 0.6, XGBoost: 0.55}
	out := domain.EnsembleOutput{Score: 0.62, Confidence: 0.97, Weights: domain.EnsembleWeights{RF: 0.4, LSTM: 0.3, XGB: 0.3}}

	t.Run("Idempotent", func(t *testing.T) {
		g := NewGenerator(nil)
		a := g.Decide(f, scores, out, noon)
		b := g.Decide(f, scores, out, noon)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("decisions differ:\n%+v\n%+v", a, b)
		}
		if a.Verdict != domain.VerdictSuspicious {
			t.Errorf("expected suspicious, got %s", a.Verdict)
		}
	})

	t.Run("LabelsAppendedWithoutDuplicates", func(t *testing.T) {
		g := NewGenerator(staticLabeler{"Watched merchant", "Card not present transaction", "", "Watched merchant"})
		d := g.Decide(f, scores, out, noon)

		want := []string{
			"Card not present transaction",
			"Random Forest flagged anomalous patterns",
			"Watched merchant",
		}
		if !reflect.DeepEqual(d.RiskFactors, want) {
			t.Errorf("expected %v, got %v", want, d.RiskFactors)
		}
	})

	t.Run("LabelsNeverChangeTheVerdictOrActions", func(t *testing.T) {
		plain := NewGenerator(nil).Decide(f, scores, out, noon)
		labelled := NewGenerator(staticLabeler{"Extra"}).Decide(f, scores, out, noon)
		if plain.Verdict != labelled.Verdict || !reflect.DeepEqual(plain.Actions, labelled.Actions) {
			t.Error("labels altered the decision")
		}
	})
}

func TestBuildAlert(t *testing.T) {
	result := &domain.ScoringResult{
		TransactionID:      "tx-alert",
		UserID:             "user-1",
		RandomForestScore:  0.9,
		LSTMScore:          0.85,
		XGBoostScore:       0.8,
		EnsembleScore:      0.8612,
		Prediction:         domain.VerdictFraudulent,
		Confidence:         0.99,
		RiskFactors:        []string{"High transaction amount"},
		RecommendedActions: []string{"IMMEDIATE: Block transaction"},
	}

	if !ShouldAlert(result) {
		t.Fatal("expected fraudulent result to alert")
	}

	alert := BuildAlert("tenant-a", result, noon)
	if alert.ID == "" {
		t.Error("expected alert id")
	}
	if alert.Severity != domain.SeverityCritical {
		t.Errorf("expected critical, got %s", alert.Severity)
	}
	if alert.Title != "CRITICAL Risk Transaction Detected" {
		t.Errorf("unexpected title %q", alert.Title)
	}
	if !strings.Contains(alert.Message, "tx-alert") || !strings.Contains(alert.Message, "86.1%") {
		t.Errorf("unexpected message %q", alert.Message)
	}
	if alert.Metadata.ModelScores.LSTM != 0.85 || alert.Metadata.Confidence != 0.99 {
		t.Errorf("metadata not populated: %+v", alert.Metadata)
	}
	if alert.AlertType != domain.AlertTypeFraudDetection || alert.TenantID != "tenant-a" {
		t.Errorf("unexpected alert header: %+v", alert)
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		verdict domain.Verdict
		score   float64
		raw     float64
		want    domain.Severity
	}{
		{domain.VerdictFraudulent, 0.81, 0, domain.SeverityCritical},
		{domain.VerdictSuspicious, 0.8, 0, domain.SeverityHigh},
		{domain.VerdictSuspicious, 0.61, 0, domain.SeverityHigh},
		{domain.VerdictSuspicious, 0.6, 0, domain.SeverityMedium},
		{domain.VerdictSuspicious, 0.51, 0, domain.SeverityMedium},
		{domain.VerdictSuspicious, 0.6, 0.60003, domain.SeverityHigh},
		{domain.VerdictSuspicious, 0.6, 0.59998, domain.SeverityMedium},
		{domain.VerdictFraudulent, 0.8, 0.80004, domain.SeverityCritical},
	}

	for _, tt := range tests {
		r := &domain.ScoringResult{Prediction: tt.verdict, EnsembleScore: tt.score, RawEnsembleScore: tt.raw}
		if got := SeverityFor(r); got != tt.want {
			t.Errorf("SeverityFor(%s, %v, raw %v) = %s, want %s", tt.verdict, tt.score, tt.raw, got, tt.want)
		}
	}

	if ShouldAlert(&domain.ScoringResult{Prediction: domain.VerdictLegitimate, EnsembleScore: 0.5}) {
		t.Error("legitimate result should not alert")
	}
}
