package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Row is one labelled transaction read from the replay file.
type Row struct {
	Transaction map[string]any
	IsFraud     bool
	Labelled    bool
}

// readRows parses a CSV whose header names feature fields in their wire
// form (transaction_id, amount, card_present, ...). An optional is_fraud
// column carries the ground-truth label. Empty cells are omitted so the
// server treats them as absent.
func readRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row, err := parseRecord(header, record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, ok := row.Transaction["transaction_id"]; !ok {
			row.Transaction["transaction_id"] = fmt.Sprintf("replay-%d", line)
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func parseRecord(header, record []string) (Row, error) {
	row := Row{Transaction: make(map[string]any, len(header))}

	for i, col := range header {
		if i >= len(record) {
			break
		}
		v := strings.TrimSpace(record[i])
		if v == "" {
			continue
		}

		switch col {
		case "is_fraud", "isfraud":
			row.IsFraud = v == "1" || strings.EqualFold(v, "true")
			row.Labelled = true
		case "amount", "account_balance", "time_since_last_transaction":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return row, fmt.Errorf("%s: %w", col, err)
			}
			row.Transaction[col] = f
		case "user_age", "velocity_1h", "velocity_24h":
			n, err := strconv.Atoi(v)
			if err != nil {
				return row, fmt.Errorf("%s: %w", col, err)
			}
			row.Transaction[col] = n
		case "card_present":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return row, fmt.Errorf("%s: %w", col, err)
			}
			row.Transaction[col] = b
		case "transaction_time":
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return row, fmt.Errorf("%s: %w", col, err)
			}
			row.Transaction[col] = t
		default:
			row.Transaction[col] = v
		}
	}
	return row, nil
}

// Tally accumulates replay outcomes. Any non-legitimate verdict counts as
// a positive prediction.
type Tally struct {
	TruePositives  atomic.Int64
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64
	Unlabelled     atomic.Int64
	Errors         atomic.Int64

	Legitimate atomic.Int64
	Suspicious atomic.Int64
	Fraudulent atomic.Int64

	LatencyMs atomic.Int64
	Processed atomic.Int64
}

// Record adds one scored row.
func (t *Tally) Record(row Row, prediction string) {
	switch prediction {
	case "fraudulent":
		t.Fraudulent.Add(1)
	case "suspicious":
		t.Suspicious.Add(1)
	default:
		t.Legitimate.Add(1)
	}

	if !row.Labelled {
		t.Unlabelled.Add(1)
		return
	}

	predicted := prediction != "legitimate"
	switch {
	case predicted && row.IsFraud:
		t.TruePositives.Add(1)
	case predicted && !row.IsFraud:
		t.FalsePositives.Add(1)
	case !predicted && !row.IsFraud:
		t.TrueNegatives.Add(1)
	default:
		t.FalseNegatives.Add(1)
	}
}

// Precision, recall and F1 over the labelled rows.
func (t *Tally) Scores() (precision, recall, f1 float64) {
	tp := float64(t.TruePositives.Load())
	fp := float64(t.FalsePositives.Load())
	fn := float64(t.FalseNegatives.Load())

	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}
