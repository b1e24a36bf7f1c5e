// Command searchbench measures GET /search latency against a running service.
//
// Two suites are run, one repeating a fixed query and one with random word
// combinations. Each starts with a warm-up request that is not measured. The
// command exits 1 when p95 or mean latency of any suite reaches -target.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"time"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL    = flag.String("url", envOrDefault("API_BASE_URL", "http://localhost:8080"), "Base URL of the search service")
		iterations = flag.Int("n", 10, "Measured requests per suite")
		fixed      = flag.String("query", "test search", "Query used by the fixed-query suite")
		limit      = flag.Int("limit", 10, "Page size requested")
		timeout    = flag.Duration("timeout", 30*time.Second, "Per-request timeout")
		target     = flag.Duration("target", 100*time.Millisecond, "Latency target for p95 and mean")
	)
	flag.Parse()

	if *iterations < 1 {
		return fmt.Errorf("-n must be positive")
	}

	b := &bench{
		client:  &http.Client{Timeout: *timeout},
		baseURL: *baseURL,
		limit:   *limit,
		out:     os.Stdout,
	}
	ctx := context.Background()

	fmt.Printf("Search latency benchmark against %s (%d requests per suite, 1 warm-up)\n", b.searchURL(""), *iterations)

	same := make([]string, *iterations)
	for i := range same {
		same[i] = *fixed
	}

	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	random := make([]string, *iterations)
	for i := range random {
		random[i] = randomQuery(r)
	}

	suites := []suite{
		b.run(ctx, "Same query", *fixed, same),
		b.run(ctx, "Random queries", randomQuery(r), random),
	}

	if !meetsTarget(suites, *target) {
		return fmt.Errorf("latency target of %s not met", *target)
	}
	fmt.Printf("\nLatency target of %s met\n", *target)
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
