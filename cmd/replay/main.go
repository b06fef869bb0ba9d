// Replay tool for scoring a CSV of transactions against a running Kestrel.
//
// Usage:
//
//	go run ./cmd/replay -csv transactions.csv -url http://localhost:8080
//
// Each row is posted to /analyze. When the file has an is_fraud column the
// tool reports a confusion matrix with precision, recall and F1.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

type analyzeResponse struct {
	Success bool `json:"success"`
	Result  struct {
		TransactionID string  `json:"transaction_id"`
		EnsembleScore float64 `json:"ensemble_score"`
		Prediction    string  `json:"prediction"`
	} `json:"result"`
}

func main() {
	csvPath := flag.String("csv", "", "Path to the transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum rows to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv transactions.csv [-url http://localhost:8080]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := readRows(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows from %s\n", len(rows), *csvPath)

	start := time.Now()
	tally := replay(rows, *baseURL, *tenantID, *workers, *verbose)
	printResults(tally, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func replay(rows []Row, baseURL, tenantID string, numWorkers int, verbose bool) *Tally {
	tally := &Tally{}
	work := make(chan Row, 100)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				resp, err := analyze(client, baseURL, tenantID, row)
				tally.LatencyMs.Add(time.Since(start).Milliseconds())
				tally.Processed.Add(1)

				if err != nil {
					tally.Errors.Add(1)
					if verbose {
						fmt.Printf("ERROR %v -> %v\n", row.Transaction["transaction_id"], err)
					}
					continue
				}
				tally.Record(row, resp.Result.Prediction)

				if verbose {
					fmt.Printf("%-20s | score %.4f | %-10s | fraud label %v\n",
						resp.Result.TransactionID, resp.Result.EnsembleScore, resp.Result.Prediction, row.IsFraud)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return tally
}

func analyze(client *http.Client, baseURL, tenantID string, row Row) (*analyzeResponse, error) {
	body, err := json.Marshal(map[string]any{"transaction": row.Transaction})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func printResults(t *Tally, duration time.Duration) {
	fmt.Println()
	fmt.Println("REPLAY RESULTS")
	fmt.Printf("  Processed:   %d\n", t.Processed.Load())
	fmt.Printf("  Errors:      %d\n", t.Errors.Load())
	fmt.Printf("  Legitimate:  %d\n", t.Legitimate.Load())
	fmt.Printf("  Suspicious:  %d\n", t.Suspicious.Load())
	fmt.Printf("  Fraudulent:  %d\n", t.Fraudulent.Load())

	if labelled := t.Processed.Load() - t.Errors.Load() - t.Unlabelled.Load(); labelled > 0 {
		fmt.Println()
		fmt.Println("  CONFUSION MATRIX (flagged = suspicious or fraudulent)")
		fmt.Println("                 flagged   passed")
		fmt.Printf("    fraud       %8d %8d\n", t.TruePositives.Load(), t.FalseNegatives.Load())
		fmt.Printf("    legitimate  %8d %8d\n", t.FalsePositives.Load(), t.TrueNegatives.Load())

		precision, recall, f1 := t.Scores()
		fmt.Printf("\n  Precision: %.4f\n  Recall:    %.4f\n  F1-Score:  %.4f\n", precision, recall, f1)
	}

	fmt.Println()
	fmt.Printf("  Duration:    %v\n", duration.Round(time.Millisecond))
	if n := t.Processed.Load(); n > 0 {
		fmt.Printf("  Avg latency: %.2f ms\n", float64(t.LatencyMs.Load())/float64(n))
		fmt.Printf("  Throughput:  %.2f tx/sec\n", float64(n)/duration.Seconds())
	}
	fmt.Println()
}
