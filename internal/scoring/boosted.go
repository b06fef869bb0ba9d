package scoring

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	boostBase         = 0.5
	boostLearningRate = 0.1
	adaptiveRate      = 0.05
	adaptiveRounds    = 5
)

// ScoreBoosted is the iterative corrective scorer: a base prediction
// nudged by three fixed correctives and a few adaptive rounds.
func ScoreBoosted(f *domain.TransactionFeatures, at time.Time) float64 {
	p := boostBase
	for _, correct := range [...]float64{
		amountCorrective(f),
		channelCorrective(f),
		contextCorrective(f, at),
	} {
		p += boostLearningRate * correct
	}

	for i := 0; i < adaptiveRounds; i++ {
		p += adaptiveRate * adaptiveCorrective(f, p)
	}

	return clamp01(p)
}

func amountCorrective(f *domain.TransactionFeatures) float64 {
	switch {
	case f.Amount > 8000:
		return 0.4
	case domain.IntValue(f.Velocity1h) > 2:
		return 0.3
	default:
		return -0.1
	}
}

func channelCorrective(f *domain.TransactionFeatures) float64 {
	switch {
	case !f.CardPresent && f.Amount > 1000:
		return 0.35
	case positiveInt(f.UserAge) && *f.UserAge < 30 && f.Amount > 3000:
		return 0.25
	default:
		return -0.05
	}
}

func contextCorrective(f *domain.TransactionFeatures, at time.Time) float64 {
	switch {
	case domain.IsOffHours(at) && f.Amount > 2000:
		return 0.3
	case oneOf(f.MerchantCategory, "Gambling", "Adult"):
		return 0.4
	default:
		return 0
	}
}

// adaptiveCorrective pushes predictions still near the base toward a
// coarse amount-based estimate and leaves decided ones alone.
func adaptiveCorrective(f *domain.TransactionFeatures, p float64) float64 {
	if math.Abs(p-boostBase) >= 0.1 {
		return 0
	}
	if f.Amount > 5000 {
		return 0.2
	}
	return -0.1
}
