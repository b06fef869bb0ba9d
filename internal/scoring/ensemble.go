package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BaseWeights are the ensemble weights before per-call adjustment.
var BaseWeights = domain.EnsembleWeights{RF: 0.4, LSTM: 0.3, XGB: 0.3}

const (
	historyThreshold   = 5
	highAmountWeighted = 10000
	minConfidence      = 0.1
)

// Weights derives the normalized per-call weights. A user history
// shifts weight to the sequential scorer; a large amount shifts it to
// the corrective scorer.
func Weights(f *domain.TransactionFeatures) domain.EnsembleWeights {
	w := BaseWeights
	if f.PriorTransactions > historyThreshold {
		w.LSTM += 0.1
		w.RF -= 0.05
		w.XGB -= 0.05
	}
	if f.Amount > highAmountWeighted {
		w.XGB += 0.1
		w.RF -= 0.05
		w.LSTM -= 0.05
	}

	total := w.Sum()
	return domain.EnsembleWeights{
		RF:   w.RF / total,
		LSTM: w.LSTM / total,
		XGB:  w.XGB / total,
	}
}

// Combine merges three scores into the ensemble score and a confidence
// that falls as the scorers disagree.
func Combine(scores domain.ScoreSet, f *domain.TransactionFeatures) domain.EnsembleOutput {
	w := Weights(f)
	score := w.RF*scores.RandomForest + w.LSTM*scores.LSTM + w.XGB*scores.XGBoost

	values := scores.Values()
	var variance float64
	for _, s := range values {
		variance += (s - score) * (s - score)
	}
	variance /= float64(len(values))

	return domain.EnsembleOutput{
		Score:      score,
		Confidence: math.Max(minConfidence, 1-3*variance),
		Weights:    w,
	}
}
