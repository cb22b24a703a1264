// Benchmark tool for testing Kestrel against labeled lead data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/leads.csv -url http://localhost:8080
//   go run cmd/benchmark/main.go -synthetic 5000 -url http://localhost:8080
//
// This tool:
//  1. Reads labeled lead data (with conversion outcomes), or generates
//     synthetic leads
//  2. Sends each lead to Kestrel for qualification
//  3. Compares Kestrel's verdict (qualified/not) with actual conversions
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledLead is one benchmark input: a feature snapshot plus whether the
// lead actually converted.
type LabeledLead struct {
	Email                 string
	SourceChannel         string
	CreditScore           float64
	Income                float64
	SessionDuration       float64
	PageViews             float64
	ConversionProbability float64
	FraudRiskScore        float64
	Converted             bool
}

// QualifyRequest matches Kestrel's POST /qualify format.
type QualifyRequest struct {
	LeadID   string         `json:"leadId,omitempty"`
	Features map[string]any `json:"features"`
	AIScore  *AIScore       `json:"aiScore,omitempty"`
}

type AIScore struct {
	ConversionProbability float64 `json:"conversionProbability"`
	FraudRiskScore        float64 `json:"fraudRiskScore"`
}

// QualifyResponse is the subset of Kestrel's response the benchmark reads.
type QualifyResponse struct {
	DecisionID string  `json:"decisionId"`
	Qualified  bool    `json:"qualified"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Converted lead qualified
	FalsePositives int64 // Non-converting lead qualified
	TrueNegatives  int64 // Non-converting lead rejected
	FalseNegatives int64 // Converted lead rejected (missed revenue!)

	TotalProcessed int64
	TotalConverted int64
	TotalLost      int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled leads CSV file")
	synthetic := flag.Int("synthetic", 0, "Generate N synthetic leads instead of reading a CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum leads to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each lead result")
	flag.Parse()

	if *csvPath == "" && *synthetic == 0 {
		fmt.Println("Usage: benchmark -csv /path/to/leads.csv [-url http://localhost:8080]")
		fmt.Println("       benchmark -synthetic 5000 [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Lead Qualification               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	if *csvPath != "" {
		fmt.Printf("\nCSV File:    %s\n", *csvPath)
	} else {
		fmt.Printf("\nSynthetic:   %d leads\n", *synthetic)
	}
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Load lead data
	var leads []LabeledLead
	var err error
	if *csvPath != "" {
		fmt.Printf("\nReading lead data from %s...\n", *csvPath)
		leads, err = readLeadsCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("\nGenerating %d synthetic leads...\n", *synthetic)
		leads = generateLeads(*synthetic)
	}
	fmt.Printf("✓ Loaded %d leads\n", len(leads))

	convertedCount := 0
	for _, lead := range leads {
		if lead.Converted {
			convertedCount++
		}
	}
	fmt.Printf("  - Converted:     %d (%.2f%%)\n", convertedCount, 100*float64(convertedCount)/float64(len(leads)))
	fmt.Printf("  - Not converted: %d (%.2f%%)\n", len(leads)-convertedCount, 100*float64(len(leads)-convertedCount)/float64(len(leads)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(leads, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

func readLeadsCSV(path string, limit int) ([]LabeledLead, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	col := func(record []string, name string) string {
		if i, ok := colIndex[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}
	num := func(record []string, name string) float64 {
		v, _ := strconv.ParseFloat(col(record, name), 64)
		return v
	}

	var leads []LabeledLead
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		leads = append(leads, LabeledLead{
			Email:                 col(record, "email"),
			SourceChannel:         col(record, "sourcechannel"),
			CreditScore:           num(record, "creditscore"),
			Income:                num(record, "income"),
			SessionDuration:       num(record, "sessionduration"),
			PageViews:             num(record, "pageviews"),
			ConversionProbability: num(record, "conversionprobability"),
			FraudRiskScore:        num(record, "fraudriskscore"),
			Converted:             col(record, "converted") == "1",
		})

		if limit > 0 && len(leads) >= limit {
			break
		}
	}

	return leads, nil
}

// generateLeads produces a synthetic population with correlated conversion
// labels so the confusion matrix is meaningful without real data.
func generateLeads(n int) []LabeledLead {
	rng := rand.New(rand.NewSource(42))
	channels := []string{"organic", "paid_social", "paid_search", "referral", "email"}

	leads := make([]LabeledLead, 0, n)
	for i := 0; i < n; i++ {
		lead := LabeledLead{
			Email:                 fmt.Sprintf("lead-%06d@example.com", i),
			SourceChannel:         channels[rng.Intn(len(channels))],
			CreditScore:           500 + rng.Float64()*350,
			Income:                25000 + rng.Float64()*175000,
			SessionDuration:       rng.Float64() * 1200,
			PageViews:             float64(rng.Intn(20)),
			ConversionProbability: rng.Float64(),
			FraudRiskScore:        rng.Float64() * rng.Float64(), // skew low
		}

		// Conversion correlates with credit, engagement and model score.
		propensity := 0.0
		if lead.CreditScore >= 700 {
			propensity += 0.3
		}
		if lead.SessionDuration > 300 {
			propensity += 0.2
		}
		propensity += lead.ConversionProbability * 0.4
		if lead.FraudRiskScore > 0.7 {
			propensity = 0
		}
		lead.Converted = rng.Float64() < propensity

		leads = append(leads, lead)
	}
	return leads
}

func runBenchmark(leads []LabeledLead, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledLead, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for lead := range work {
				start := time.Now()
				result, err := qualifyLead(client, baseURL, lead)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", lead.Email, err)
					}
					continue
				}

				// Track actual labels
				if lead.Converted {
					atomic.AddInt64(&metrics.TotalConverted, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLost, 1)
				}

				// Calculate confusion matrix
				predicted := result.Qualified
				actual := lead.Converted

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-28s | Credit: %4.0f | Session: %5.0fs | Converted: %-5v | Kestrel: qualified=%-5v (score %.0f)\n",
						status,
						lead.Email,
						lead.CreditScore,
						lead.SessionDuration,
						lead.Converted,
						result.Qualified,
						result.Score,
					)
				}
			}
		}()
	}

	// Send work
	for _, lead := range leads {
		work <- lead
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func qualifyLead(client *http.Client, baseURL string, lead LabeledLead) (*QualifyResponse, error) {
	req := QualifyRequest{
		Features: map[string]any{
			"creditScore":     lead.CreditScore,
			"income":          lead.Income,
			"sessionDuration": lead.SessionDuration,
			"pageViews":       lead.PageViews,
			"sourceChannel":   lead.SourceChannel,
		},
		AIScore: &AIScore{
			ConversionProbability: lead.ConversionProbability,
			FraudRiskScore:        lead.FraudRiskScore,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/qualify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result QualifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Converted:        %d\n", m.TotalConverted)
	fmt.Printf("   Not Converted:    %d\n", m.TotalLost)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    QUAL        REJ")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  C  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NC  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 QUALIFICATION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of qualified leads, how many converted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of converting leads, how many we qualified)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 FUNNEL ANALYSIS\n")
	if m.TotalConverted > 0 {
		captureRate := float64(m.TruePositives) / float64(m.TotalConverted) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalConverted) * 100
		fmt.Printf("   Converters Qualified: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalConverted, captureRate)
		fmt.Printf("   Converters Missed:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalConverted, missRate)
	}
	if m.TotalLost > 0 {
		wasteRate := float64(m.FalsePositives) / float64(m.TotalLost) * 100
		fmt.Printf("   Wasted Sales Time:    %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLost, wasteRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		lps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f leads/sec\n", lps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - qualifying most future converters")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some converters slip through")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant revenue being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most converters are being rejected!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - sales time is well spent")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - sales chasing many dead leads")
	} else {
		fmt.Println("   ❌ Very low precision - mostly dead leads qualified")
	}

	fmt.Println()
}
