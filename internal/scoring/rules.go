package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ScoreRules is the rule-ensemble scorer: the arithmetic mean of five
// fixed decision trees.
func ScoreRules(f *domain.TransactionFeatures, at time.Time) float64 {
	trees := [...]float64{
		amountTree(f),
		clockTree(f, at),
		velocityTree(f),
		balanceTree(f),
		deviceTree(f),
	}

	var sum float64
	for _, t := range trees {
		sum += t
	}
	return sum / float64(len(trees))
}

// amountTree splits on amount, card presence, daily velocity and location.
// Above 10000 every leaf stays at or above the 1000 to 10000 leaves, so the
// tree never scores a larger amount lower.
func amountTree(f *domain.TransactionFeatures) float64 {
	riskyLocation := containsAny(f.Location, "foreign", "ATM")
	switch {
	case f.Amount > 10000:
		switch {
		case !f.CardPresent:
			return 0.9
		case domain.IntValue(f.Velocity24h) > 5:
			return 0.8
		case riskyLocation:
			return 0.6
		default:
			return 0.4
		}
	case f.Amount > 1000:
		if riskyLocation {
			return 0.6
		}
		return 0.2
	default:
		return 0.1
	}
}

// clockTree splits on hour of day and merchant category.
func clockTree(f *domain.TransactionFeatures, at time.Time) float64 {
	if domain.IsOffHours(at) {
		switch {
		case f.Amount > 5000:
			return 0.85
		case !f.CardPresent:
			return 0.6
		default:
			return 0.3
		}
	}
	if oneOf(f.MerchantCategory, "Gambling", "Cash Advance") {
		return 0.7
	}
	return 0.15
}

// velocityTree splits on hourly velocity and recency.
func velocityTree(f *domain.TransactionFeatures) float64 {
	if domain.IntValue(f.Velocity1h) > 3 {
		if f.Amount > 2000 {
			return 0.9
		}
		return 0.6
	}
	if positiveFloat(f.TimeSinceLastTransaction) && *f.TimeSinceLastTransaction < 60 {
		return 0.7
	}
	return 0.2
}

// balanceTree splits on balance drain and customer age.
func balanceTree(f *domain.TransactionFeatures) float64 {
	if positiveFloat(f.AccountBalance) && f.Amount > *f.AccountBalance*0.8 {
		return 0.8
	}
	if positiveInt(f.UserAge) && *f.UserAge < 25 && f.Amount > 5000 {
		return 0.6
	}
	return 0.1
}

// deviceTree sums device and network risk, scaled and capped at 1.
func deviceTree(f *domain.TransactionFeatures) float64 {
	deviceRisk := 0.3
	if f.DeviceID != "" {
		deviceRisk = 0.1
		if strings.Contains(f.DeviceID, "unknown") {
			deviceRisk = 0.5
		}
	}

	ipRisk := 0.4
	if f.CustomerIP != "" {
		ipRisk = 0.3
		if strings.HasPrefix(f.CustomerIP, "10.") {
			ipRisk = 0.1
		}
	}

	return math.Min((deviceRisk+ipRisk)*1.5, 1)
}
