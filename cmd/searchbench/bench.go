package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
)

var queryWords = []string{
	"test", "search", "message", "query", "data", "api", "lambda",
	"database", "postgres", "aws", "cloud", "server", "client",
	"request", "response", "endpoint", "function", "service",
}

// randomQuery joins one to three words drawn from queryWords
func randomQuery(r *rand.Rand) string {
	n := 1 + r.IntN(3)
	words := make([]string, n)
	for i := range words {
		words[i] = queryWords[r.IntN(len(queryWords))]
	}
	return strings.Join(words, " ")
}

type result struct {
	query   string
	latency time.Duration
	status  int
	err     error
}

func (r result) ok() bool {
	return r.err == nil && r.status == http.StatusOK
}

// summary holds latency statistics in milliseconds
type summary struct {
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	P50    float64
	P95    float64
	P99    float64
	StdDev float64
}

func summarize(latencies []float64) (summary, error) {
	var (
		s   summary
		err error
	)
	data := stats.Float64Data(latencies)

	if s.Min, err = stats.Min(data); err != nil {
		return summary{}, err
	}
	if s.Max, err = stats.Max(data); err != nil {
		return summary{}, err
	}
	if s.Mean, err = stats.Mean(data); err != nil {
		return summary{}, err
	}
	if s.Median, err = stats.Median(data); err != nil {
		return summary{}, err
	}
	for _, p := range []struct {
		dst *float64
		pct float64
	}{{&s.P50, 50}, {&s.P95, 95}, {&s.P99, 99}} {
		if *p.dst, err = stats.PercentileNearestRank(data, p.pct); err != nil {
			return summary{}, err
		}
	}
	if len(latencies) > 1 {
		if s.StdDev, err = stats.StandardDeviationSample(data); err != nil {
			return summary{}, err
		}
	}
	return s, nil
}

type suite struct {
	name    string
	results []result
	stats   *summary // nil when no request succeeded
}

func (s suite) succeeded() int {
	n := 0
	for _, r := range s.results {
		if r.ok() {
			n++
		}
	}
	return n
}

type bench struct {
	client  *http.Client
	baseURL string
	limit   int
	out     io.Writer
}

func (b *bench) searchURL(query string) string {
	q := url.Values{}
	q.Set("q", query)
	q.Set("page", "0")
	q.Set("limit", strconv.Itoa(b.limit))
	return strings.TrimRight(b.baseURL, "/") + "/search?" + q.Encode()
}

func (b *bench) do(ctx context.Context, query string) result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.searchURL(query), nil)
	if err != nil {
		return result{query: query, err: err}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return result{query: query, latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return result{query: query, latency: time.Since(start), status: resp.StatusCode}
}

// run issues one warm-up request, which is excluded from the results, and then one
// request per query
func (b *bench) run(ctx context.Context, name, warmup string, queries []string) suite {
	fmt.Fprintf(b.out, "\n%s\n", name)

	w := b.do(ctx, warmup)
	fmt.Fprintf(b.out, "  warm-up  %8.2fms  %s\n", ms(w.latency), describe(w))

	s := suite{name: name}
	var latencies []float64
	for i, q := range queries {
		r := b.do(ctx, q)
		s.results = append(s.results, r)
		if r.ok() {
			latencies = append(latencies, ms(r.latency))
		}
		fmt.Fprintf(b.out, "  [%2d]     %8.2fms  %-30q %s\n", i+1, ms(r.latency), q, describe(r))
	}

	if len(latencies) > 0 {
		if sum, err := summarize(latencies); err == nil {
			s.stats = &sum
		}
	}
	b.report(s)
	return s
}

func (b *bench) report(s suite) {
	total := len(s.results)
	ok := s.succeeded()
	rate := 0.0
	if total > 0 {
		rate = float64(ok) / float64(total) * 100
	}
	fmt.Fprintf(b.out, "  requests %d, succeeded %d (%.1f%%), failed %d\n", total, ok, rate, total-ok)

	if s.stats == nil {
		return
	}
	st := s.stats
	fmt.Fprintf(b.out, "  min %.2f  max %.2f  mean %.2f  median %.2f  p50 %.2f  p95 %.2f  p99 %.2f  stddev %.2f (ms)\n",
		st.Min, st.Max, st.Mean, st.Median, st.P50, st.P95, st.P99, st.StdDev)
}

// meetsTarget reports whether every suite with data has p95 and mean below target
func meetsTarget(suites []suite, target time.Duration) bool {
	limit := ms(target)
	seen := false
	for _, s := range suites {
		if s.stats == nil {
			continue
		}
		seen = true
		if s.stats.P95 >= limit || s.stats.Mean >= limit {
			return false
		}
	}
	return seen
}

func describe(r result) string {
	switch {
	case r.err != nil:
		return r.err.Error()
	case r.status != http.StatusOK:
		return "HTTP " + strconv.Itoa(r.status)
	default:
		return "OK"
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
