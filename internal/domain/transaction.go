package domain

import (
	"time"
)

// TransactionFeatures is the feature record scored by the engine.
// Optional numeric fields are pointers: nil means absent, never a sentinel.
type TransactionFeatures struct {
	// Identifiers
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id,omitempty"`

	// Financial details
	Amount         float64  `json:"amount"`
	AccountBalance *float64 `json:"account_balance,omitempty"`

	// Customer profile
	UserAge *int `json:"user_age,omitempty"`

	// Behavioural counters (derived by the feature normalizer when absent)
	Velocity1h               *int     `json:"velocity_1h,omitempty"`
	Velocity24h              *int     `json:"velocity_24h,omitempty"`
	TimeSinceLastTransaction *float64 `json:"time_since_last_transaction,omitempty"` // seconds
	PriorTransactions        int      `json:"prior_transactions,omitempty"`

	// Merchant and channel
	MerchantName     string `json:"merchant_name"`
	MerchantCategory string `json:"merchant_category,omitempty"`
	Location         string `json:"location"`
	DeviceID         string `json:"device_id,omitempty"`
	CustomerIP       string `json:"customer_ip,omitempty"`
	CardPresent      bool   `json:"card_present"`

	// Optional context
	Geolocation     *GeoPoint  `json:"geolocation,omitempty"`
	TransactionTime *time.Time `json:"transaction_time,omitempty"`
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// StoredTransaction is the feature record as kept by the transaction store,
// used by the feature normalizer for velocity and recency lookups.
type StoredTransaction struct {
	TenantID  string              `json:"tenantId"`
	Features  TransactionFeatures `json:"features"`
	CreatedAt time.Time           `json:"createdAt"`
}

// IntValue returns the pointed-to value or zero when absent.
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// FloatValue returns the pointed-to value or zero when absent.
func FloatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// IsOffHours reports whether t falls outside 06:00 to 22:59 in its own location.
func IsOffHours(t time.Time) bool {
	hour := t.Hour()
	return hour < 6 || hour > 22
}

// EvaluationTime expresses the serving clock reading in loc, the zone the
// hour-of-day features are read in. transaction_time is informational and
// never moves the evaluation clock.
func EvaluationTime(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return now
	}
	return now.In(loc)
}
