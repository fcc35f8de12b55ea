// Load generator for driving Kestrel's synchronous validation endpoint.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -rate 100 -duration 30s
//
// This tool:
//   1. Generates synthetic payments with a fixed scenario mix (clean,
//      over-threshold, same-account, missing-reference, foreign-currency)
//   2. Sends them to POST /validate at the configured rate
//   3. Reports outcome distribution, latency percentiles and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ValidateRequest is the Kestrel API request format.
type ValidateRequest struct {
	PaymentID          string    `json:"paymentId,omitempty"`
	SourceAccount      string    `json:"sourceAccount"`
	DestinationAccount string    `json:"destinationAccount"`
	Amount             Amount    `json:"amount"`
	Reference          string    `json:"reference"`
	PaymentType        string    `json:"paymentType,omitempty"`
	InitiatedAt        time.Time `json:"initiatedAt"`
}

type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// ValidateResponse is the Kestrel API response format.
type ValidateResponse struct {
	Result struct {
		ValidationID string `json:"validationId"`
		Status       string `json:"status"`
		RiskLevel    string `json:"riskLevel"`
		FraudScore   int    `json:"fraudScore"`
		RiskScore    int    `json:"riskScore"`
	} `json:"result"`
}

// Metrics tracks load test results.
type Metrics struct {
	TotalSent   int64
	TotalPassed int64
	TotalFailed int64
	TotalErrors int64

	mu         sync.Mutex
	latencies  []float64 // milliseconds
	riskLevels map[string]int64
}

func (m *Metrics) record(latencyMs float64, riskLevel string) {
	m.mu.Lock()
	m.latencies = append(m.latencies, latencyMs)
	m.riskLevels[riskLevel]++
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "loadgen-test", "Tenant ID for requests")
	rate := flag.Int("rate", 100, "Target payments per second (0 = unthrottled)")
	duration := flag.Duration("duration", 30*time.Second, "How long to run")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each payment result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL LOADGEN - Validation Pipeline              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Rate:        %d/s\n", *rate)
	fmt.Printf("Duration:    %v\n", *duration)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nRunning load test for %v...\n", *duration)
	startTime := time.Now()
	metrics := runLoad(*baseURL, *tenantID, *rate, *duration, *workers, *verbose)
	elapsed := time.Since(startTime)

	printResults(metrics, elapsed)
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

// makePayment generates the i-th synthetic payment. One in ten trips the
// fraud threshold, one in ten reuses the source account, one in ten
// omits the reference and one in twenty pays in a foreign currency; the
// rest are clean.
func makePayment(i int64) ValidateRequest {
	src := fmt.Sprintf("ACC-%04d", i%500)
	dst := fmt.Sprintf("ACC-%04d", (i+250)%500)
	req := ValidateRequest{
		PaymentID:          fmt.Sprintf("loadgen-%d-%d", time.Now().UnixNano(), i),
		SourceAccount:      src,
		DestinationAccount: dst,
		Amount:             Amount{Value: 100 + float64(i%49)*100, Currency: "USD"},
		Reference:          fmt.Sprintf("INV-%06d", i),
		PaymentType:        "TRANSFER",
		InitiatedAt:        time.Now().UTC(),
	}

	switch {
	case i%10 == 7:
		req.Amount.Value = 60000 + float64(i%5)*10000
	case i%10 == 8:
		req.DestinationAccount = req.SourceAccount
	case i%10 == 9:
		req.Reference = ""
	case i%20 == 6:
		req.Amount.Currency = "EUR"
	}
	return req
}

func runLoad(baseURL, tenantID string, rate int, duration time.Duration, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{riskLevels: make(map[string]int64)}

	work := make(chan int64, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for seq := range work {
				payment := makePayment(seq)
				start := time.Now()
				result, err := validatePayment(client, baseURL, tenantID, payment)
				latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

				atomic.AddInt64(&metrics.TotalSent, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", payment.PaymentID, err)
					}
					continue
				}

				if result.Result.Status == "PASSED" {
					atomic.AddInt64(&metrics.TotalPassed, 1)
				} else {
					atomic.AddInt64(&metrics.TotalFailed, 1)
				}
				metrics.record(latencyMs, result.Result.RiskLevel)

				if verbose {
					fmt.Printf("  %-28s | $%10.2f %s | %-6s | %-8s | fraud=%3d risk=%3d | %.1fms\n",
						payment.PaymentID,
						payment.Amount.Value,
						payment.Amount.Currency,
						result.Result.Status,
						result.Result.RiskLevel,
						result.Result.FraudScore,
						result.Result.RiskScore,
						latencyMs,
					)
				}
			}
		}()
	}

	// Feed work at the target rate until the clock runs out.
	deadline := time.After(duration)
	var interval time.Duration
	if rate > 0 {
		interval = time.Second / time.Duration(rate)
	}
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	var seq int64
feed:
	for {
		select {
		case <-deadline:
			break feed
		default:
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-deadline:
				break feed
			}
		}

		work <- seq
		seq++
	}
	close(work)

	wg.Wait()
	return metrics
}

func validatePayment(client *http.Client, baseURL, tenantID string, payment ValidateRequest) (*ValidateResponse, error) {
	body, err := json.Marshal(payment)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/validate", bytes.NewReader(body))
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

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(m *Metrics, elapsed time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOADGEN RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Total Sent:   %d\n", m.TotalSent)
	fmt.Printf("   Passed:       %d\n", m.TotalPassed)
	fmt.Printf("   Failed:       %d\n", m.TotalFailed)
	fmt.Printf("   Errors:       %d\n", m.TotalErrors)

	m.mu.Lock()
	latencies := append([]float64(nil), m.latencies...)
	riskLevels := make(map[string]int64, len(m.riskLevels))
	for k, v := range m.riskLevels {
		riskLevels[k] = v
	}
	m.mu.Unlock()

	fmt.Printf("\n🚦 RISK LEVELS\n")
	for _, level := range []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"} {
		fmt.Printf("   %-9s %d\n", level+":", riskLevels[level])
	}

	sort.Float64s(latencies)
	fmt.Printf("\n⏱️  LATENCY\n")
	if len(latencies) > 0 {
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("   Min:   %8.2f ms\n", latencies[0])
		fmt.Printf("   Avg:   %8.2f ms\n", sum/float64(len(latencies)))
		fmt.Printf("   p50:   %8.2f ms\n", percentile(latencies, 0.50))
		fmt.Printf("   p90:   %8.2f ms\n", percentile(latencies, 0.90))
		fmt.Printf("   p99:   %8.2f ms\n", percentile(latencies, 0.99))
		fmt.Printf("   Max:   %8.2f ms\n", latencies[len(latencies)-1])
	}

	fmt.Printf("\n🚀 THROUGHPUT\n")
	fmt.Printf("   Duration:     %v\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		fmt.Printf("   Rate:         %.2f req/sec\n", float64(m.TotalSent)/elapsed.Seconds())
	}

	fmt.Println()
}
