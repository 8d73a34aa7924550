// Batchcheck replays a CSV of formulas against a running smellreg server
// and compares each verdict with the expected one.
//
// Usage:
//
//	go run ./cmd/batchcheck -csv formulas.csv -url http://localhost:8080 -markets eu,us
//
// The CSV has a header row and one row per ingredient:
//
//	formula,cas,name,percentage,expected
//
// Rows sharing a formula name form one formula. expected is "compliant" or
// "non_compliant" and only needs to be set on one row of each formula.
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smellreg/smellreg/internal/api"
	"github.com/smellreg/smellreg/internal/domain"
)

// Case is one formula with its expected verdict.
type Case struct {
	Formula  domain.Formula
	Expected string
}

// Metrics tracks batch results. A positive is a non-compliant verdict.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalErrors    int64
	Unlabelled     int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to formula CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "smellreg base URL")
	tenantID := flag.String("tenant", "batchcheck", "Tenant ID for requests")
	markets := flag.String("markets", "eu,us", "Comma-separated target markets")
	product := flag.String("product", string(domain.FineFragrance), "Product type")
	concentration := flag.Float64("concentration", 20, "Fragrance concentration in the product (%)")
	leaveOn := flag.Bool("leave-on", true, "Product is leave-on")
	workers := flag.Int("workers", 8, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each formula result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: batchcheck -csv formulas.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	req := domain.EvaluationRequest{
		ProductType:            domain.ProductType(*product),
		FragranceConcentration: *concentration,
		LeaveOn:                *leaveOn,
	}
	for _, m := range strings.Split(*markets, ",") {
		if m = strings.TrimSpace(m); m != "" {
			req.Markets = append(req.Markets, domain.Market(m))
		}
	}
	if err := req.Validate(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("CSV File:       %s\n", *csvPath)
	fmt.Printf("smellreg URL:   %s\n", *baseURL)
	fmt.Printf("Tenant ID:      %s\n", *tenantID)
	fmt.Printf("Markets:        %v\n", req.Markets)
	fmt.Printf("Product:        %s @ %.2f%%\n", req.ProductType, req.FragranceConcentration)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: smellreg not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("✓ smellreg is healthy")

	cases, err := readCases(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d formulas\n", len(cases))

	start := time.Now()
	metrics := run(cases, req, *baseURL, *tenantID, *workers, *verbose)
	printResults(metrics, time.Since(start))
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

// readCases groups ingredient rows into formulas, preserving first-seen
// order.
func readCases(path string) ([]*Case, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseCases(file)
}

func parseCases(r io.Reader) ([]*Case, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int)
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"formula", "cas", "percentage"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		cases  []*Case
		byName = make(map[string]*Case)
		line   = 1
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		name := field(rec, "formula")
		pct, err := strconv.ParseFloat(field(rec, "percentage"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid percentage: %w", line, err)
		}

		c, ok := byName[name]
		if !ok {
			c = &Case{Formula: domain.Formula{Name: name}}
			byName[name] = c
			cases = append(cases, c)
		}
		c.Formula.Ingredients = append(c.Formula.Ingredients, domain.Ingredient{
			CAS:        field(rec, "cas"),
			Name:       field(rec, "name"),
			Percentage: pct,
		})
		if exp := strings.ToLower(field(rec, "expected")); exp != "" {
			c.Expected = exp
		}
	}
	return cases, nil
}

func run(cases []*Case, req domain.EvaluationRequest, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan *Case, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				summary, err := check(client, baseURL, tenantID, c.Formula, req)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.Formula.Name, err)
					}
					continue
				}
				tally(metrics, c.Expected, summary.Status)

				if verbose {
					fmt.Printf("%-30s | expected: %-13s | got: %-13s | violations: %d | gaps: %d | %s\n",
						c.Formula.Name, c.Expected, summary.Status,
						summary.Violations, summary.DataGaps, summary.CertificateNumber)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)
	wg.Wait()

	return metrics
}

func tally(m *Metrics, expected, status string) {
	predicted := status == domain.VerdictNonCompliant
	var actual bool
	switch expected {
	case "non_compliant", "noncompliant", "fail":
		actual = true
	case "compliant", "pass":
	default:
		atomic.AddInt64(&m.Unlabelled, 1)
		return
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func check(client *http.Client, baseURL, tenantID string, f domain.Formula, req domain.EvaluationRequest) (*domain.ReportSummary, error) {
	body, err := json.Marshal(api.CheckBody{Formula: f, EvaluationRequest: req})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/check?view=summary", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var summary domain.ReportSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Unlabelled:       %d\n", m.Unlabelled)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                         Verdict")
	fmt.Println("                   NON_COMPLIANT  COMPLIANT")
	fmt.Printf("   Expected  NC     %8d      %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("             C      %8d      %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	labelled := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if labelled > 0 {
		agreement := float64(m.TruePositives+m.TrueNegatives) / float64(labelled)
		fmt.Printf("\n   Agreement:        %.4f\n", agreement)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f formulas/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
