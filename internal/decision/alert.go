package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ShouldAlert reports whether a result warrants a realtime alert.
// It follows the verdict, so any result above the suspicious threshold
// alerts.
func ShouldAlert(result *domain.ScoringResult) bool {
	return result.Prediction != domain.VerdictLegitimate
}

// SeverityFor grades an alerting result on the same unrounded score the
// verdict was taken from. Results read back from storage carry only the
// rounded score.
func SeverityFor(result *domain.ScoringResult) domain.Severity {
	score := result.RawEnsembleScore
	if score == 0 {
		score = result.EnsembleScore
	}
	switch {
	case score > 0.8:
		return domain.SeverityCritical
	case score > 0.6:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// BuildAlert creates the alert record for a result. Callers check
// ShouldAlert first.
func BuildAlert(tenantID string, result *domain.ScoringResult, now time.Time) *domain.Alert {
	severity := SeverityFor(result)
	return &domain.Alert{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: result.TransactionID,
		UserID:        result.UserID,
		AlertType:     domain.AlertTypeFraudDetection,
		Severity:      severity,
		Title:         fmt.Sprintf("%s Risk Transaction Detected", strings.ToUpper(string(severity))),
		Message: fmt.Sprintf("Advanced ML ensemble flagged transaction %s with %.1f%% risk score",
			result.TransactionID, result.EnsembleScore*100),
		Metadata: domain.AlertMetadata{
			TransactionID: result.TransactionID,
			EnsembleScore: result.EnsembleScore,
			ModelScores: domain.ScoreSet{
				RandomForest: result.RandomForestScore,
				LSTM:         result.LSTMScore,
				XGBoost:      result.XGBoostScore,
			},
			RiskFactors:        result.RiskFactors,
			RecommendedActions: result.RecommendedActions,
			Confidence:         result.Confidence,
		},
		CreatedAt: now,
	}
}
