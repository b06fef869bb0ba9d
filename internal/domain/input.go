package domain

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidFeatures marks a transaction rejected before scoring.
var ErrInvalidFeatures = errors.New("invalid transaction features")

// FieldError names the request field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap lets callers match any FieldError with errors.Is(err, ErrInvalidFeatures).
func (e *FieldError) Unwrap() error { return ErrInvalidFeatures }

// TransactionInput is the wire form of a transaction, shared by the HTTP
// API and the ingestion topic. Pointer fields let validation tell a missing
// value from a zero one.
type TransactionInput struct {
	TransactionID            *string    `json:"transaction_id"`
	UserID                   string     `json:"user_id,omitempty"`
	Amount                   *float64   `json:"amount"`
	AccountBalance           *float64   `json:"account_balance,omitempty"`
	UserAge                  *int       `json:"user_age,omitempty"`
	Velocity1h               *int       `json:"velocity_1h,omitempty"`
	Velocity24h              *int       `json:"velocity_24h,omitempty"`
	TimeSinceLastTransaction *float64   `json:"time_since_last_transaction,omitempty"`
	PreviousTransactions     []any      `json:"previous_transactions,omitempty"`
	MerchantName             *string    `json:"merchant_name"`
	MerchantCategory         string     `json:"merchant_category,omitempty"`
	Location                 *string    `json:"location"`
	DeviceID                 string     `json:"device_id,omitempty"`
	CustomerIP               string     `json:"customer_ip,omitempty"`
	CardPresent              *bool      `json:"card_present"`
	Geolocation              *GeoPoint  `json:"geolocation,omitempty"`
	TransactionTime          *time.Time `json:"transaction_time,omitempty"`
}

// Features checks required fields and numeric sanity and converts the
// input to a feature record. Errors are *FieldError.
func (in *TransactionInput) Features() (*TransactionFeatures, error) {
	if in == nil {
		return nil, &FieldError{Field: "transaction", Message: "is required"}
	}
	switch {
	case in.TransactionID == nil || *in.TransactionID == "":
		return nil, &FieldError{Field: "transaction_id", Message: "is required"}
	case in.Amount == nil:
		return nil, &FieldError{Field: "amount", Message: "is required"}
	case in.CardPresent == nil:
		return nil, &FieldError{Field: "card_present", Message: "is required"}
	case in.Location == nil:
		return nil, &FieldError{Field: "location", Message: "is required"}
	case in.MerchantName == nil:
		return nil, &FieldError{Field: "merchant_name", Message: "is required"}
	}

	f := &TransactionFeatures{
		TransactionID:            *in.TransactionID,
		UserID:                   in.UserID,
		Amount:                   *in.Amount,
		AccountBalance:           in.AccountBalance,
		UserAge:                  in.UserAge,
		Velocity1h:               in.Velocity1h,
		Velocity24h:              in.Velocity24h,
		TimeSinceLastTransaction: in.TimeSinceLastTransaction,
		PriorTransactions:        len(in.PreviousTransactions),
		MerchantName:             *in.MerchantName,
		MerchantCategory:         in.MerchantCategory,
		Location:                 *in.Location,
		DeviceID:                 in.DeviceID,
		CustomerIP:               in.CustomerIP,
		CardPresent:              *in.CardPresent,
		Geolocation:              in.Geolocation,
		TransactionTime:          in.TransactionTime,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the numeric sanity of a feature record.
func (f *TransactionFeatures) Validate() error {
	if f == nil {
		return &FieldError{Field: "transaction", Message: "is required"}
	}
	if f.TransactionID == "" {
		return &FieldError{Field: "transaction_id", Message: "is required"}
	}
	if !finite(f.Amount) || f.Amount < 0 {
		return &FieldError{Field: "amount", Message: "must be a finite non-negative number"}
	}
	for _, c := range []struct {
		name  string
		value *float64
	}{
		{"account_balance", f.AccountBalance},
		{"time_since_last_transaction", f.TimeSinceLastTransaction},
	} {
		if c.value != nil && (!finite(*c.value) || *c.value < 0) {
			return &FieldError{Field: c.name, Message: "must be a finite non-negative number"}
		}
	}
	for _, c := range []struct {
		name  string
		value *int
	}{
		{"user_age", f.UserAge},
		{"velocity_1h", f.Velocity1h},
		{"velocity_24h", f.Velocity24h},
	} {
		if c.value != nil && *c.value < 0 {
			return &FieldError{Field: c.name, Message: "must be non-negative"}
		}
	}
	if f.PriorTransactions < 0 {
		return &FieldError{Field: "previous_transactions", Message: "count must be non-negative"}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
