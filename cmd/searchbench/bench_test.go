package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s, err := summarize([]float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5})
	require.NoError(t, err)

	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 5.5, s.Mean, 1e-9)
	assert.InDelta(t, 5.5, s.Median, 1e-9)
	assert.Equal(t, 5.0, s.P50)
	assert.Equal(t, 10.0, s.P95)
	assert.Equal(t, 10.0, s.P99)
	assert.InDelta(t, 3.0277, s.StdDev, 1e-4)
}

func TestSummarize_SingleSample(t *testing.T) {
	s, err := summarize([]float64{42})
	require.NoError(t, err)
	assert.Equal(t, 42.0, s.P95)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestSummarize_Empty(t *testing.T) {
	_, err := summarize(nil)
	assert.Error(t, err)
}

func TestRandomQuery(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	known := make(map[string]bool, len(queryWords))
	for _, w := range queryWords {
		known[w] = true
	}

	for i := 0; i < 100; i++ {
		words := strings.Fields(randomQuery(r))
		require.GreaterOrEqual(t, len(words), 1)
		require.LessOrEqual(t, len(words), 3)
		for _, w := range words {
			assert.True(t, known[w], "unexpected word %q", w)
		}
	}
}

func TestBenchRun_ExcludesWarmupAndFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		if r.URL.Query().Get("q") == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"total":0,"items":[]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	b := &bench{client: srv.Client(), baseURL: srv.URL + "/", limit: 5, out: &out}

	s := b.run(context.Background(), "mixed", "warm", []string{"ok", "broken", "ok again"})

	assert.Equal(t, int32(4), calls.Load())
	require.Len(t, s.results, 3)
	assert.Equal(t, 2, s.succeeded())
	require.NotNil(t, s.stats)
	assert.Contains(t, out.String(), "HTTP 500")
	assert.Contains(t, out.String(), "succeeded 2")
}

func TestBenchRun_AllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := &bench{client: srv.Client(), baseURL: srv.URL, limit: 10, out: &bytes.Buffer{}}
	s := b.run(context.Background(), "down", "warm", []string{"a", "b"})

	assert.Nil(t, s.stats)
	assert.False(t, meetsTarget([]suite{s}, 100*time.Millisecond))
}

func TestMeetsTarget(t *testing.T) {
	fast := suite{stats: &summary{Mean: 20, P95: 40}}
	slowTail := suite{stats: &summary{Mean: 20, P95: 150}}
	slowMean := suite{stats: &summary{Mean: 100, P95: 99}}
	empty := suite{}

	target := 100 * time.Millisecond
	assert.True(t, meetsTarget([]suite{fast, empty}, target))
	assert.False(t, meetsTarget([]suite{fast, slowTail}, target))
	assert.False(t, meetsTarget([]suite{slowMean}, target))
	assert.False(t, meetsTarget(nil, target))
}
