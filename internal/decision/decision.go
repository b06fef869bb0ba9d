// Package decision turns ensemble output into a verdict, the risk
// factors behind it, per-scorer explanations and recommended actions.
package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Verdict thresholds on the unrounded ensemble score.
const (
	FraudThreshold      = 0.8
	SuspiciousThreshold = 0.5

	scorerFlagThreshold = 0.6
)

// Labeler contributes extra risk-factor labels for a transaction.
type Labeler interface {
	Labels(f *domain.TransactionFeatures, at time.Time) []string
}

// Generator produces decisions. It is stateless apart from the optional
// labeler and safe for concurrent use.
type Generator struct {
	labeler Labeler
}

// NewGenerator creates a generator. labeler may be nil.
func NewGenerator(labeler Labeler) *Generator {
	return &Generator{labeler: labeler}
}

// Decision is the categorical and explanatory part of a scoring result.
type Decision struct {
	Verdict      domain.Verdict
	RiskFactors  []string
	Explanations map[string]string
	Actions      []string
}

// Decide builds the decision for one scored transaction.
// Calling it twice with the same inputs yields equal decisions.
func (g *Generator) Decide(f *domain.TransactionFeatures, scores domain.ScoreSet, out domain.EnsembleOutput, at time.Time) *Decision {
	verdict := VerdictFor(out.Score)

	factors := RiskFactors(f, scores, at)
	if g.labeler != nil {
		factors = appendUnique(factors, g.labeler.Labels(f, at)...)
	}

	return &Decision{
		Verdict:      verdict,
		RiskFactors:  factors,
		Explanations: Explanations(scores, out.Weights),
		Actions:      Actions(verdict, out.Score),
	}
}

// VerdictFor maps an ensemble score to a verdict. Both thresholds are
// exclusive: exactly 0.8 is suspicious and exactly 0.5 is legitimate.
func VerdictFor(score float64) domain.Verdict {
	switch {
	case score > FraudThreshold:
		return domain.VerdictFraudulent
	case score > SuspiciousThreshold:
		return domain.VerdictSuspicious
	default:
		return domain.VerdictLegitimate
	}
}

// RiskFactors lists the triggered feature and scorer conditions in a
// fixed order.
func RiskFactors(f *domain.TransactionFeatures, scores domain.ScoreSet, at time.Time) []string {
	factors := make([]string, 0, 4)
	add := func(cond bool, label string) {
		if cond {
			factors = append(factors, label)
		}
	}

	add(f.Amount > 5000, "High transaction amount")
	add(!f.CardPresent, "Card not present transaction")
	add(domain.IntValue(f.Velocity24h) > 3, "High transaction velocity")
	add(domain.IntValue(f.Velocity1h) > 2, "Rapid successive transactions")
	add(domain.IsOffHours(at), "Unusual transaction time")
	add(strings.Contains(f.Location, "foreign") || strings.Contains(f.Location, "Unknown"), "High-risk location")
	add(scores.RandomForest > scorerFlagThreshold, "Random Forest flagged anomalous patterns")
	add(scores.LSTM > scorerFlagThreshold, "LSTM detected sequential anomalies")
	add(scores.XGBoost > scorerFlagThreshold, "XGBoost identified complex risk patterns")
	add(highRiskCategory(f.MerchantCategory), "High-risk merchant category")

	return factors
}

func highRiskCategory(category string) bool {
	switch category {
	case "Gambling", "Cash Advance", "Adult":
		return true
	}
	return false
}

// Explanations describes each scorer's contribution with its score and
// weight as percentages.
func Explanations(scores domain.ScoreSet, w domain.EnsembleWeights) map[string]string {
	return map[string]string{
		domain.ModelRandomForest: fmt.Sprintf(
			"Decision trees identified %.1f%% risk based on transaction rules and patterns (weight: %.1f%%)",
			scores.RandomForest*100, w.RF*100),
		domain.ModelLSTM: fmt.Sprintf(
			"Sequential analysis detected %.1f%% risk in transaction timing and behavioral patterns (weight: %.1f%%)",
			scores.LSTM*100, w.LSTM*100),
		domain.ModelXGBoost: fmt.Sprintf(
			"Gradient boosting found %.1f%% risk through complex feature interactions (weight: %.1f%%)",
			scores.XGBoost*100, w.XGB*100),
	}
}

// Actions returns the recommended actions for a verdict.
func Actions(verdict domain.Verdict, score float64) []string {
	switch verdict {
	case domain.VerdictFraudulent:
		return []string{
			"IMMEDIATE: Block transaction",
			"Alert fraud investigation team",
			"Freeze account temporarily",
			"Require identity verification",
			"Contact customer via verified phone number",
		}
	case domain.VerdictSuspicious:
		actions := []string{
			"Require additional authentication (SMS/Email OTP)",
			"Step-up authentication with security questions",
			"Monitor account for next 24 hours",
			"Flag for manual review",
		}
		if score > 0.7 {
			actions = append(actions, "Consider temporary transaction limits")
		}
		return actions
	default:
		actions := []string{
			"Approve transaction",
			"Continue normal monitoring",
		}
		if score > 0.3 {
			actions = append(actions, "Log for pattern analysis")
		}
		return actions
	}
}

func appendUnique(dst []string, labels ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(labels))
	for _, l := range dst {
		seen[l] = struct{}{}
	}
	for _, l := range labels {
		if _, ok := seen[l]; ok || l == "" {
			continue
		}
		seen[l] = struct{}{}
		dst = append(dst, l)
	}
	return dst
}
