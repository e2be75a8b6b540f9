// Benchmark tool for replaying labeled claims against a running Medoracle.
//
// Usage:
//
//	go run ./cmd/benchmark -csv claims.csv -url http://localhost:8080
//
// This tool:
//  1. Reads claims with an expected decision status from a CSV file
//  2. Submits each claim to POST /claims
//  3. Compares the returned status with the expected one
//  4. Prints a confusion matrix, per-status accuracy and latency
//
// The CSV header names the claim fields (examType, examDate,
// claimedAmount, patientId, currency, institution), plus claimId and
// expected. Unknown columns are ignored.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var statuses = []string{"APPROVED", "NEEDS_REVIEW", "REJECTED"}

// LabeledClaim is one CSV row.
type LabeledClaim struct {
	ClaimID  string
	Values   map[string]string
	Expected string
}

// ClaimRequest is the Medoracle POST /claims body.
type ClaimRequest struct {
	ClaimID string            `json:"claimId,omitempty"`
	Source  string            `json:"source,omitempty"`
	Values  map[string]string `json:"values"`
}

// ClaimResponse is the subset of the decision response the tool reads.
type ClaimResponse struct {
	RecordID            string `json:"recordId"`
	Status              string `json:"status"`
	ReimbursementAmount string `json:"reimbursementAmount"`
	Pending             bool   `json:"pending"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	mu        sync.Mutex
	confusion map[string]map[string]int64 // expected -> actual

	TotalProcessed    int64
	TotalRejectedBody int64 // 422: the claim could not be normalized
	TotalErrors       int64
	ProcessingTimeMs  int64
	latencies         []time.Duration
}

func (m *Metrics) observe(expected, actual string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confusion[expected] == nil {
		m.confusion[expected] = make(map[string]int64)
	}
	m.confusion[expected][actual]++
	m.latencies = append(m.latencies, latency)
}

var errUnprocessable = errors.New("claim could not be normalized")

func main() {
	csvPath := flag.String("csv", "", "Path to labeled claims CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Medoracle base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum claims to submit (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/claims.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println("  MEDORACLE BENCHMARK - Labeled claim replay")
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Medoracle not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Medoracle is running:")
		fmt.Println("  go run ./cmd/medoracle serve")
		os.Exit(1)
	}
	fmt.Println("✓ Medoracle is healthy")

	claims, err := readClaimsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d claims\n", len(claims))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

func readClaimsCSV(path string, limit int) ([]LabeledClaim, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !slices.Contains(header, "expected") {
		return nil, errors.New("header has no expected column")
	}

	var claims []LabeledClaim
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		c := LabeledClaim{Values: make(map[string]string)}
		for i, col := range header {
			if i >= len(record) {
				break
			}
			value := strings.TrimSpace(record[i])
			switch col {
			case "claimId":
				c.ClaimID = value
			case "expected":
				c.Expected = strings.ToUpper(value)
			default:
				if value != "" {
					c.Values[col] = value
				}
			}
		}
		if !slices.Contains(statuses, c.Expected) {
			continue
		}
		claims = append(claims, c)

		if limit > 0 && len(claims) >= limit {
			break
		}
	}

	return claims, nil
}

func runBenchmark(claims []LabeledClaim, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{confusion: make(map[string]map[string]int64)}

	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := submitClaim(client, baseURL, tenantID, c)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed.Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if errors.Is(err, errUnprocessable) {
					atomic.AddInt64(&metrics.TotalRejectedBody, 1)
					if verbose {
						fmt.Printf("422   %-12s | expected %-12s\n", c.ClaimID, c.Expected)
					}
					continue
				}
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.ClaimID, err)
					}
					continue
				}

				metrics.observe(c.Expected, result.Status, elapsed)

				if verbose {
					mark := "✓"
					if result.Status != c.Expected {
						mark = "✗"
					}
					fmt.Printf("%s %-12s | expected %-12s | got %-12s | amount %10s | pending %v\n",
						mark, c.ClaimID, c.Expected, result.Status, result.ReimbursementAmount, result.Pending)
				}
			}
		}()
	}

	for _, c := range claims {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func submitClaim(client *http.Client, baseURL, tenantID string, c LabeledClaim) (*ClaimResponse, error) {
	body, err := json.Marshal(ClaimRequest{
		ClaimID: c.ClaimID,
		Source:  "benchmark",
		Values:  c.Values,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/claims", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, errUnprocessable
	default:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ClaimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n═══════════════════════════════════════════════════════════")
	fmt.Println("  BENCHMARK RESULTS")
	fmt.Println("═══════════════════════════════════════════════════════════")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Submitted:      %d\n", m.TotalProcessed)
	fmt.Printf("   Not normalizable:     %d\n", m.TotalRejectedBody)
	fmt.Printf("   Errors:               %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX (rows: expected, columns: decided)\n")
	fmt.Printf("   %-14s", "")
	for _, s := range statuses {
		fmt.Printf("%14s", s)
	}
	fmt.Println()

	var correct, total int64
	for _, expected := range statuses {
		fmt.Printf("   %-14s", expected)
		for _, actual := range statuses {
			n := m.confusion[expected][actual]
			fmt.Printf("%14d", n)
			total += n
			if expected == actual {
				correct += n
			}
		}
		fmt.Println()
	}

	fmt.Printf("\nPER-STATUS RECALL\n")
	for _, s := range statuses {
		var row int64
		for _, n := range m.confusion[s] {
			row += n
		}
		if row == 0 {
			fmt.Printf("   %-14s  n/a\n", s)
			continue
		}
		fmt.Printf("   %-14s  %.4f  (%d / %d)\n", s, float64(m.confusion[s][s])/float64(row), m.confusion[s][s], row)
	}
	if total > 0 {
		fmt.Printf("\n   Accuracy:  %.4f\n", float64(correct)/float64(total))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f claims/sec\n", tps)
	}
	if len(m.latencies) > 0 {
		slices.Sort(m.latencies)
		fmt.Printf("   p50 / p99:        %v / %v\n",
			percentile(m.latencies, 0.50).Round(time.Microsecond),
			percentile(m.latencies, 0.99).Round(time.Microsecond))
	}
	fmt.Println()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
