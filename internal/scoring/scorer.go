// Package scoring implements the three deterministic scorers and the
// dynamic weighted ensemble that combines them.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer maps a feature record to a risk score in [0,1].
// Implementations must be pure: the same features and evaluation time
// always produce the same score.
type Scorer interface {
	Name() string
	Score(f *domain.TransactionFeatures, at time.Time) float64
}

// ScorerFunc adapts a named pure function to the Scorer interface.
type ScorerFunc struct {
	name string
	fn   func(f *domain.TransactionFeatures, at time.Time) float64
}

// NewScorerFunc wraps fn under the given scorer name.
func NewScorerFunc(name string, fn func(f *domain.TransactionFeatures, at time.Time) float64) ScorerFunc {
	return ScorerFunc{name: name, fn: fn}
}

// Name returns the scorer name.
func (s ScorerFunc) Name() string { return s.name }

// Score runs the wrapped function.
func (s ScorerFunc) Score(f *domain.TransactionFeatures, at time.Time) float64 {
	return s.fn(f, at)
}

// The three scorers of the ensemble.
var (
	RuleEnsemble       Scorer = NewScorerFunc(domain.ModelRandomForest, ScoreRules)
	GatedSequence      Scorer = NewScorerFunc(domain.ModelLSTM, ScoreSequence)
	CorrectiveBoosting Scorer = NewScorerFunc(domain.ModelXGBoost, ScoreBoosted)
)

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// positiveInt and positiveFloat report whether an optional value is
// present and non-zero. Zero-valued optional numerics take the same
// branch as absent ones.
func positiveInt(p *int) bool {
	return p != nil && *p != 0
}

func positiveFloat(p *float64) bool {
	return p != nil && *p != 0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func oneOf(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
