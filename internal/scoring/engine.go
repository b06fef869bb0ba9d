package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrInvalidFeatures is returned when a feature record fails numeric sanity checks.
	ErrInvalidFeatures = domain.ErrInvalidFeatures

	// ErrScoringFailed is returned when a scorer faults or yields a non-finite value.
	ErrScoringFailed = errors.New("scoring failed")
)

// Engine runs the three scorers, combines them and generates the decision.
// It keeps no state between calls and is safe for concurrent use.
type Engine struct {
	scorers   [3]Scorer
	generator *decision.Generator
}

// NewEngine creates an engine with the standard scorers.
func NewEngine(generator *decision.Generator) *Engine {
	if generator == nil {
		generator = decision.NewGenerator(nil)
	}
	return &Engine{
		scorers:   [3]Scorer{RuleEnsemble, GatedSequence, CorrectiveBoosting},
		generator: generator,
	}
}

// WithScorers returns a copy of the engine using the given scorers in
// rule-ensemble, sequential, corrective order.
func (e *Engine) WithScorers(rf, lstm, xgb Scorer) *Engine {
	return &Engine{
		scorers:   [3]Scorer{rf, lstm, xgb},
		generator: e.generator,
	}
}

// Analyze scores one transaction as of the evaluation time at.
// The hour-of-day features are read from at in its own location.
func (e *Engine) Analyze(ctx context.Context, f *domain.TransactionFeatures, at time.Time) (*domain.ScoringResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := Validate(f); err != nil {
		return nil, err
	}

	scores, err := e.score(f, at)
	if err != nil {
		return nil, err
	}

	out := Combine(scores, f)
	if !finite(out.Score) || !finite(out.Confidence) {
		return nil, fmt.Errorf("%w: ensemble produced a non-finite value", ErrScoringFailed)
	}

	d := e.generator.Decide(f, scores, out, at)

	return &domain.ScoringResult{
		TransactionID:      f.TransactionID,
		UserID:             f.UserID,
		RandomForestScore:  round4(scores.RandomForest),
		LSTMScore:          round4(scores.LSTM),
		XGBoostScore:       round4(scores.XGBoost),
		EnsembleScore:      round4(out.Score),
		RawEnsembleScore:   out.Score,
		Prediction:         d.Verdict,
		Confidence:         round4(out.Confidence),
		RiskFactors:        d.RiskFactors,
		ModelExplanations:  d.Explanations,
		RecommendedActions: d.Actions,
		Weights: domain.EnsembleWeights{
			RF:   round4(out.Weights.RF),
			LSTM: round4(out.Weights.LSTM),
			XGB:  round4(out.Weights.XGB),
		},
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// score runs the scorers in parallel. A panicking scorer or one that
// leaves [0,1] fails the whole call.
func (e *Engine) score(f *domain.TransactionFeatures, at time.Time) (domain.ScoreSet, error) {
	var (
		results [3]float64
		errs    [3]error
		wg      sync.WaitGroup
	)

	for i, s := range e.scorers {
		wg.Add(1)
		go func(idx int, s Scorer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[idx] = fmt.Errorf("%w: %s panicked: %v", ErrScoringFailed, s.Name(), r)
				}
			}()

			v := s.Score(f, at)
			if !finite(v) || v < 0 || v > 1 {
				errs[idx] = fmt.Errorf("%w: %s returned %v", ErrScoringFailed, s.Name(), v)
				return
			}
			results[idx] = v
		}(i, s)
	}
	wg.Wait()

	if err := errors.Join(errs[:]...); err != nil {
		return domain.ScoreSet{}, err
	}

	return domain.ScoreSet{
		RandomForest: results[0],
		LSTM:         results[1],
		XGBoost:      results[2],
	}, nil
}

// Validate checks the numeric sanity of a feature record. Failures are
// *domain.FieldError values matching ErrInvalidFeatures.
func Validate(f *domain.TransactionFeatures) error {
	return f.Validate()
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
