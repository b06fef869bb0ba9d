package watch

import (
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var evening = time.Date(2025, 5, 2, 21, 15, 0, 0, time.UTC)

func rule(id, expr, label string) *domain.WatchRule {
	return &domain.WatchRule{ID: id, Name: id, Expression: expr, Label: label, Enabled: true}
}

func features() *domain.TransactionFeatures {
	return &domain.TransactionFeatures{
		TransactionID:    "tx-watch",
		Amount:           2500,
		CardPresent:      false,
		Location:         "Lisbon",
		MerchantName:     "Crypto Kiosk",
		MerchantCategory: "Crypto",
		Velocity1h:       domain.IntPtr(2),
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
	if labels := engine.Labels(features(), evening); labels != nil {
		t.Errorf("expected no labels, got %v", labels)
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine()

	tests := []struct {
		name    string
		rule    *domain.WatchRule
		wantErr bool
	}{
		{"Valid", rule("r1", `merchant_category == "Crypto"`, "Crypto merchant"), false},
		{"SyntaxError", rule("r2", "this is not valid CEL !!!", "x"), true},
		{"NonBool", rule("r3", "amount * 2.0", "x"), true},
		{"UnknownVariable", rule("r4", "currency == 'EUR'", "x"), true},
		{"MissingLabel", rule("r5", "card_present", ""), true},
		{"Nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr %v, got %v", tt.wantErr, err)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Error("validation must not load rules")
	}
}

func TestLabels(t *testing.T) {
	engine, _ := NewEngine()

	rules := []*domain.WatchRule{
		rule("b-crypto", `merchant_category == "Crypto" && !card_present`, "Remote crypto purchase"),
		rule("a-evening", "hour >= 21 && amount > 1000.0", "Large evening purchase"),
		rule("c-velocity", "velocity_1h > 5", "Burst activity"),
		rule("d-age", "user_age > 0 && user_age < 21", "Young customer"),
	}
	disabled := rule("e-disabled", "amount > 0.0", "Never shown")
	disabled.Enabled = false
	rules = append(rules, disabled)

	if err := engine.ReloadRules(rules); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 4 {
		t.Errorf("expected 4 loaded rules, got %d", engine.RulesCount())
	}

	want := []string{"Large evening purchase", "Remote crypto purchase"}
	if got := engine.Labels(features(), evening); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	f := features()
	f.UserAge = domain.IntPtr(19)
	f.Velocity1h = domain.IntPtr(7)
	got := engine.Labels(f, evening)
	if len(got) != 4 {
		t.Errorf("expected 4 labels, got %v", got)
	}
}

func TestReloadRulesKeepsPreviousOnError(t *testing.T) {
	engine, _ := NewEngine()
	if err := engine.LoadRule(rule("ok", "amount > 100.0", "Over 100")); err != nil {
		t.Fatal(err)
	}

	err := engine.ReloadRules([]*domain.WatchRule{
		rule("fine", "card_present", "Card"),
		rule("broken", "amount >", "Broken"),
	})
	if err == nil {
		t.Fatal("expected reload to fail")
	}

	if got := engine.Labels(features(), evening); !reflect.DeepEqual(got, []string{"Over 100"}) {
		t.Errorf("previous rules should remain loaded, got %v", got)
	}
}

func TestActivationDefaults(t *testing.T) {
	act := Activation(&domain.TransactionFeatures{TransactionID: "tx"}, evening)
	if act["user_age"] != int64(0) || act["account_balance"] != 0.0 {
		t.Errorf("absent optionals should be zero: %v", act)
	}
	if act["hour"] != int64(21) {
		t.Errorf("expected hour 21, got %v", act["hour"])
	}
}
