package main

import (
	"strings"
	"testing"
	"time"
)

const sampleCSV = `transaction_id,amount,card_present,location,merchant_name,velocity_1h,transaction_time,is_fraud
tx-1,50.5,true,Boston,Store,,2025-06-01T14:00:00Z,0
,15000,false,foreign ATM,Lucky Star,4,,1
`

func TestReadRows(t *testing.T) {
	rows, err := readRows(strings.NewReader(sampleCSV), 0)
	if err != nil {
		t.Fatalf("readRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0].Transaction
	if first["amount"] != 50.5 || first["card_present"] != true {
		t.Errorf("unexpected typed fields %v", first)
	}
	if _, ok := first["velocity_1h"]; ok {
		t.Error("empty cells must be omitted")
	}
	if ts, ok := first["transaction_time"].(time.Time); !ok || ts.Hour() != 14 {
		t.Errorf("unexpected transaction_time %v", first["transaction_time"])
	}
	if rows[0].IsFraud || !rows[0].Labelled {
		t.Error("expected labelled legitimate row")
	}

	second := rows[1].Transaction
	if second["transaction_id"] != "replay-3" {
		t.Errorf("expected generated id, got %v", second["transaction_id"])
	}
	if second["velocity_1h"] != 4 || !rows[1].IsFraud {
		t.Errorf("unexpected second row %+v", rows[1])
	}
}

func TestReadRowsLimitAndErrors(t *testing.T) {
	rows, err := readRows(strings.NewReader(sampleCSV), 1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d, %v", len(rows), err)
	}

	_, err = readRows(strings.NewReader("amount,card_present\nabc,true\n"), 0)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line-numbered parse error, got %v", err)
	}
}

func TestTally(t *testing.T) {
	var tally Tally
	tally.Record(Row{Labelled: true, IsFraud: true}, "suspicious")
	tally.Record(Row{Labelled: true, IsFraud: true}, "legitimate")
	tally.Record(Row{Labelled: true}, "fraudulent")
	tally.Record(Row{Labelled: true}, "legitimate")
	tally.Record(Row{}, "legitimate")

	if tally.TruePositives.Load() != 1 || tally.FalseNegatives.Load() != 1 ||
		tally.FalsePositives.Load() != 1 || tally.TrueNegatives.Load() != 1 {
		t.Error("unexpected confusion matrix")
	}
	if tally.Unlabelled.Load() != 1 || tally.Legitimate.Load() != 3 {
		t.Error("unexpected verdict counts")
	}

	precision, recall, f1 := tally.Scores()
	if precision != 0.5 || recall != 0.5 || f1 != 0.5 {
		t.Errorf("expected 0.5/0.5/0.5, got %v/%v/%v", precision, recall, f1)
	}
}
