package scoring

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ScoreSequence is the gated sequential scorer. It folds a fixed
// four-step feature sequence through a single gated recurrent cell
// with hard-coded weights and squashes the final hidden state.
func ScoreSequence(f *domain.TransactionFeatures, at time.Time) float64 {
	var h, c float64
	for _, x := range sequenceOf(f, at) {
		forget := sigmoid(0.5*x + 0.3*h - 0.1)
		input := sigmoid(0.4*x + 0.2*h + 0.1)
		candidate := math.Tanh(0.6*x + 0.4*h)
		output := sigmoid(0.3*x + 0.5*h + 0.2)

		c = c*forget + candidate*input
		h = math.Tanh(c) * output
	}
	return sigmoid(2 * h)
}

func sequenceOf(f *domain.TransactionFeatures, at time.Time) [4]float64 {
	card := 0.0
	if f.CardPresent {
		card = 1
	}
	return [4]float64{
		math.Log(f.Amount+1) / 10,
		card,
		float64(at.Hour()) / 24,
		float64(domain.IntValue(f.Velocity24h)) / 10,
	}
}
