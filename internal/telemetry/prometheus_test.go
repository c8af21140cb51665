package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/domain"
)

const (
	testQuery    = `sum(increase(msgs{site="{{.SiteID}}",connector="{{.ConnectorID}}"}[{{promDuration .Window}}]))`
	testADXQuery = `sum(increase(adx_rows{connector="{{.ConnectorID}}"}[{{promDuration .Window}}]))`
)

func newPrometheusServer(t *testing.T, body string, queries *[]string, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		*queries = append(*queries, r.Form.Get("query"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestPrometheusSourceSumsVector(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries []string
	)
	server := newPrometheusServer(t, `{"status":"success","data":{"resultType":"vector","result":[
		{"metric":{"pod":"a"},"value":[1700000000,"12"]},
		{"metric":{"pod":"b"},"value":[1700000000,"3.5"]}
	]}}`, &queries, &mu)
	defer server.Close()

	source, err := NewPrometheusSource(config.TelemetryConfig{
		PrometheusURL: server.URL,
		TimeoutSec:    2,
		Query:         testQuery,
		ADXQuery:      testADXQuery,
	}, &clock.Fixed{At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	count, err := source.MessageCount(context.Background(), domain.ConnectorConfig{SiteID: " S1 ", ConnectorID: "C1"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("message count: %v", err)
	}
	if count != 15.5 {
		t.Fatalf("expected 15.5, got %v", count)
	}

	if _, err := source.MessageCount(context.Background(), domain.ConnectorConfig{SiteID: "S1", ConnectorID: "C2", ADXEnabled: true}, 35*time.Minute); err != nil {
		t.Fatalf("adx message count: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0] != `sum(increase(msgs{site="S1",connector="C1"}[1800s]))` {
		t.Fatalf("unexpected query %s", queries[0])
	}
	if !strings.HasPrefix(queries[1], "sum(increase(adx_rows") || !strings.Contains(queries[1], "[2100s]") {
		t.Fatalf("expected adx query, got %s", queries[1])
	}
}

func TestPrometheusSourceEmptyVectorIsZero(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries []string
	)
	server := newPrometheusServer(t, `{"status":"success","data":{"resultType":"vector","result":[]}}`, &queries, &mu)
	defer server.Close()

	source, err := NewPrometheusSource(config.TelemetryConfig{PrometheusURL: server.URL, Query: testQuery, ADXQuery: testADXQuery}, nil)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	count, err := source.MessageCount(context.Background(), domain.ConnectorConfig{SiteID: "S1", ConnectorID: "C1"}, time.Hour)
	if err != nil || count != 0 {
		t.Fatalf("expected zero count, got %v %v", count, err)
	}
}

func TestPrometheusSourceQueryError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error"}`))
	}))
	defer server.Close()

	source, err := NewPrometheusSource(config.TelemetryConfig{PrometheusURL: server.URL, Query: testQuery, ADXQuery: testADXQuery}, nil)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if _, err := source.MessageCount(context.Background(), domain.ConnectorConfig{SiteID: "S1", ConnectorID: "C1"}, time.Hour); err == nil {
		t.Fatalf("expected query error")
	}
}

func TestNewPrometheusSourceRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPrometheusSource(config.TelemetryConfig{Query: testQuery, ADXQuery: testADXQuery}, nil); err == nil {
		t.Fatalf("expected url error")
	}
}
