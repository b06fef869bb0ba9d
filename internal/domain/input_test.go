package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func validInput() *TransactionInput {
	return &TransactionInput{
		TransactionID: StringPtr("tx-1"),
		Amount:        FloatPtr(42),
		CardPresent:   BoolPtr(true),
		Location:      StringPtr("Boston, MA"),
		MerchantName:  StringPtr("Corner Grocery"),
	}
}

func TestTransactionInputFeatures(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		in := validInput()
		in.PreviousTransactions = []any{map[string]any{"amount": 10}, map[string]any{"amount": 12}}
		f, err := in.Features()
		if err != nil {
			t.Fatalf("Features failed: %v", err)
		}
		if f.TransactionID != "tx-1" || !f.CardPresent || f.PriorTransactions != 2 {
			t.Errorf("unexpected features %+v", f)
		}
	})

	t.Run("CardPresentFalseKept", func(t *testing.T) {
		var in TransactionInput
		raw := `{"transaction_id":"tx-2","amount":5,"card_present":false,"location":"x","merchant_name":"y"}`
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if _, err := in.Features(); err != nil {
			t.Errorf("explicit false card_present should be accepted: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(in *TransactionInput)
		field  string
	}{
		{"MissingID", func(in *TransactionInput) { in.TransactionID = nil }, "transaction_id"},
		{"EmptyID", func(in *TransactionInput) { in.TransactionID = StringPtr("") }, "transaction_id"},
		{"MissingAmount", func(in *TransactionInput) { in.Amount = nil }, "amount"},
		{"NegativeAmount", func(in *TransactionInput) { in.Amount = FloatPtr(-1) }, "amount"},
		{"MissingCardPresent", func(in *TransactionInput) { in.CardPresent = nil }, "card_present"},
		{"MissingLocation", func(in *TransactionInput) { in.Location = nil }, "location"},
		{"MissingMerchant", func(in *TransactionInput) { in.MerchantName = nil }, "merchant_name"},
		{"NegativeBalance", func(in *TransactionInput) { in.AccountBalance = FloatPtr(-3) }, "account_balance"},
		{"NegativeVelocity1h", func(in *TransactionInput) { in.Velocity1h = IntPtr(-1) }, "velocity_1h"},
		{"NegativeVelocity24h", func(in *TransactionInput) { in.Velocity24h = IntPtr(-2) }, "velocity_24h"},
		{"NegativeUserAge", func(in *TransactionInput) { in.UserAge = IntPtr(-30) }, "user_age"},
		{"InfiniteGap", func(in *TransactionInput) { in.TimeSinceLastTransaction = FloatPtr(math.Inf(1)) }, "time_since_last_transaction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(in)
			_, err := in.Features()

			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FieldError, got %v", err)
			}
			if fe.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, fe.Field)
			}
			if !errors.Is(err, ErrInvalidFeatures) {
				t.Error("expected error to match ErrInvalidFeatures")
			}
		})
	}

	t.Run("NilInput", func(t *testing.T) {
		var in *TransactionInput
		_, err := in.Features()
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != "transaction" {
			t.Errorf("expected transaction field error, got %v", err)
		}
	})
}

func TestFieldErrorMessage(t *testing.T) {
	if got := (&FieldError{Field: "amount", Message: "is required"}).Error(); got != "amount: is required" {
		t.Errorf("unexpected message %q", got)
	}
	if got := (&FieldError{Message: "malformed"}).Error(); got != "malformed" {
		t.Errorf("unexpected message %q", got)
	}
}
